package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/aep/healthdesk/api"
	healthdesk "github.com/aep/healthdesk/api/go"
	"github.com/aep/healthdesk/config"
)

var (
	file string

	caCert     string
	clientCert string
	clientKey  string

	putCmd = &cobra.Command{
		Use:     "put",
		Aliases: []string{"apply"},
		Short:   "Create or update records from a YAML/JSON file",
		Args:    cobra.NoArgs,
		RunE:    put,
	}

	getCmd = &cobra.Command{
		Use:   "get [kind/id]",
		Short: "Get a record",
		Args:  cobra.ExactArgs(1),
		RunE:  get,
	}

	editCmd = &cobra.Command{
		Use:   "edit [kind/id]",
		Short: "Edit a record in $EDITOR",
		Args:  cobra.ExactArgs(1),
		RunE:  edit,
	}

	deleteCmd = &cobra.Command{
		Use:     "delete [kind/id]",
		Aliases: []string{"rm"},
		Short:   "Delete a record",
		Args:    cobra.ExactArgs(1),
		RunE:    del,
	}
)

func RegisterCommands(root *cobra.Command) {
	root.PersistentFlags().StringVar(&config.Current.Server, "server", config.Current.Server, "healthdesk API base URL")
	root.PersistentFlags().StringVar(&caCert, "tls-ca", "", "CA certificate the server certificate must chain to")
	root.PersistentFlags().StringVar(&clientCert, "tls-cert", "", "client certificate for mTLS")
	root.PersistentFlags().StringVar(&clientKey, "tls-key", "", "client key for mTLS")

	putCmd.Flags().StringVarP(&file, "file", "f", "", "Path to JSON/YAML file, - for stdin")
	putCmd.MarkFlagRequired("file")

	root.AddCommand(putCmd)
	root.AddCommand(getCmd)
	root.AddCommand(editCmd)
	root.AddCommand(deleteCmd)
	root.AddCommand(listCmd)
	root.AddCommand(exportCmd)
	root.AddCommand(suggestCmd)
	root.AddCommand(historyCmd)
}

func getClient() (*healthdesk.Client, error) {
	var opts []healthdesk.ClientOption
	if caCert != "" || clientCert != "" {
		opts = append(opts, healthdesk.WithTLS(caCert, clientCert, clientKey))
	}
	c, err := healthdesk.NewClient(config.Current.Server, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// parseFile reads one or more documents separated by "---" lines.
func parseFile(r io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var objects []map[string]any
	for _, doc := range strings.Split(string(data), "---\n") {
		if strings.TrimSpace(doc) == "" {
			continue
		}

		var obj map[string]any
		if err := yaml.Unmarshal([]byte(doc), &obj); err != nil {
			return nil, fmt.Errorf("failed to parse document: %w", err)
		}
		if obj == nil {
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func splitRef(ref string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(ref, "/")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("invalid reference %q, expected kind/id", ref)
	}
	return kind, id, nil
}

// apply updates the record when it has an id that exists and creates it
// otherwise.
func apply(ctx context.Context, c *healthdesk.Client, w io.Writer, doc map[string]any) error {
	kind, _ := doc["kind"].(string)
	if kind == "" {
		return fmt.Errorf("document has no kind")
	}

	if id, _ := doc["id"].(string); id != "" {
		res, err := c.Update(ctx, kind, id, doc)
		if err == nil {
			status := "updated"
			if res.Message != "" {
				status = res.Message
			}
			fmt.Fprintf(w, "%s/%s %s (version %d)\n", kind, res.ID, status, res.Version)
			return nil
		}
		if !api.IsNotFound(err) {
			return err
		}
	}

	res, err := c.Create(ctx, kind, doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s/%s created\n", kind, res.ID)
	return nil
}

func put(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	objects, err := parseFile(in)
	if err != nil {
		return err
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	for _, obj := range objects {
		if err := apply(cmd.Context(), c, cmd.OutOrStdout(), obj); err != nil {
			return err
		}
	}
	return nil
}

func get(cmd *cobra.Command, args []string) error {
	kind, id, err := splitRef(args[0])
	if err != nil {
		return err
	}
	c, err := getClient()
	if err != nil {
		return err
	}

	doc, err := c.GetDocument(cmd.Context(), kind, id)
	if err != nil {
		return err
	}
	enc, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode as YAML: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(enc)
	return err
}

func del(cmd *cobra.Command, args []string) error {
	kind, id, err := splitRef(args[0])
	if err != nil {
		return err
	}
	c, err := getClient()
	if err != nil {
		return err
	}
	if err := c.Delete(cmd.Context(), kind, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s deleted\n", kind, id)
	return nil
}

// editPatch turns an edited document into an update patch: changed and new
// fields are set, removed fields are cleared.
func editPatch(before, after map[string]any) map[string]any {
	patch := map[string]any{"version": before["version"]}
	for k, v := range after {
		if !reflect.DeepEqual(before[k], v) {
			patch[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			patch[k] = nil
		}
	}
	return patch
}

func edit(cmd *cobra.Command, args []string) error {
	kind, id, err := splitRef(args[0])
	if err != nil {
		return err
	}
	c, err := getClient()
	if err != nil {
		return err
	}

	before, err := c.GetDocument(cmd.Context(), kind, id)
	if err != nil {
		return err
	}

	tmpfile, err := os.CreateTemp("", "healthdesk-edit-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmpfile.Name())

	enc, err := yaml.Marshal(before)
	if err != nil {
		return err
	}
	if _, err := tmpfile.Write(enc); err != nil {
		return err
	}
	tmpfile.Close()

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vim"
	}
	ed := exec.CommandContext(cmd.Context(), editor, tmpfile.Name())
	ed.Stdin = os.Stdin
	ed.Stdout = os.Stdout
	ed.Stderr = os.Stderr
	if err := ed.Run(); err != nil {
		return err
	}

	edited, err := os.ReadFile(tmpfile.Name())
	if err != nil {
		return err
	}
	var after map[string]any
	if err := yaml.Unmarshal(edited, &after); err != nil {
		return fmt.Errorf("failed to parse edited document: %w", err)
	}

	// round trip before through YAML so both sides compare with the same types
	var original map[string]any
	if err := yaml.Unmarshal(enc, &original); err != nil {
		return err
	}

	patch := editPatch(original, after)
	if len(patch) == 1 {
		fmt.Fprintln(cmd.OutOrStdout(), "Edit cancelled, no changes made")
		return nil
	}

	res, err := c.Update(cmd.Context(), kind, id, patch)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s updated (version %d)\n", kind, id, res.Version)
	return nil
}
