package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aep/healthdesk/api"
	"github.com/aep/healthdesk/config"
	"github.com/aep/healthdesk/suggest"
)

var (
	remoteClient string
	clearHistory bool

	suggestCmd = &cobra.Command{
		Use:   "suggest [kind] [text]",
		Short: "Suggest search terms for a kind",
		Long: `Suggest search terms from the records of a kind, mixed with recent
searches. Short or empty text lists the recent searches only.

With --client the server ranks the suggestions and uses that client's
history kept on the server; otherwise ranking happens locally against the
local history file.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSuggest,
	}

	historyCmd = &cobra.Command{
		Use:   "history [kind]",
		Short: "Show or clear recent searches",
		Long: `Show or clear the recent searches of a kind kept in the local history
file, or with --client the searches the server keeps for that client.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
)

func init() {
	for _, c := range []*cobra.Command{suggestCmd, historyCmd} {
		c.Flags().StringVar(&remoteClient, "client", "", "use the server-side history of this client id")
	}
	historyCmd.Flags().BoolVar(&clearHistory, "clear", false, "forget all recent searches")
}

func historyStore() (*suggest.FileStore, error) {
	return suggest.NewFileStore(config.Current.Suggest.HistoryFile, config.Current.Suggest.HistoryCap)
}

// rememberSearch adds a search to the local history of kind. Failing to do
// so never fails the command.
func rememberSearch(ctx context.Context, kind, text string) {
	store, err := historyStore()
	if err == nil {
		_, err = suggest.Record(ctx, store, kind, text)
	}
	if err != nil {
		slog.Warn("recording search history", "kind", kind, "err", err)
	}
}

func provider() *suggest.Provider {
	return suggest.NewProvider(suggest.Options{
		MinQuery: config.Current.Suggest.MinQuery,
		Recent:   config.Current.Suggest.Recent,
		Limit:    config.Current.Suggest.Limit,
	})
}

func printSuggestions(w io.Writer, suggestions []suggest.Suggestion) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range suggestions {
		detail := string(s.Match)
		if s.Field != "" {
			detail += " " + s.Field
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Text, s.Source, strings.TrimSpace(detail))
	}
	return tw.Flush()
}

func runSuggest(cmd *cobra.Command, args []string) error {
	kind, err := api.LookupKind(args[0])
	if err != nil {
		return err
	}
	var text string
	if len(args) > 1 {
		text = args[1]
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	if remoteClient != "" {
		rsp, err := c.Suggest(cmd.Context(), kind.Name, text, remoteClient)
		if err != nil {
			return err
		}
		return printSuggestions(cmd.OutOrStdout(), rsp.Suggestions)
	}

	store, err := historyStore()
	if err != nil {
		return err
	}
	history, err := store.Load(cmd.Context(), kind.Name)
	if err != nil {
		return err
	}

	var corpus []suggest.Candidate
	if len([]rune(strings.TrimSpace(text))) >= config.Current.Suggest.MinQuery {
		records, err := c.All(cmd.Context(), kind.Name)
		if err != nil {
			return err
		}
		corpus = suggest.Corpus(records, kind.SuggestFields...)
	}

	return printSuggestions(cmd.OutOrStdout(), provider().Suggest(text, corpus, history))
}

func printHistory(w io.Writer, entries []suggest.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no recent searches")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.Query, e.LastUsed.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	if remoteClient != "" {
		c, err := getClient()
		if err != nil {
			return err
		}
		if clearHistory {
			return c.ClearHistory(cmd.Context(), remoteClient)
		}
		rsp, err := c.History(cmd.Context(), remoteClient)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), rsp.Entries)
	}

	if len(args) == 0 {
		return fmt.Errorf("kind is required for the local history")
	}
	kind, err := api.LookupKind(args[0])
	if err != nil {
		return err
	}
	store, err := historyStore()
	if err != nil {
		return err
	}
	if clearHistory {
		_, err := store.Update(cmd.Context(), kind.Name, func(h *suggest.History) { h.Clear() })
		return err
	}
	entries, err := store.Load(cmd.Context(), kind.Name)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), entries)
}
