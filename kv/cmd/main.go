package cmd

import (
	"fmt"

	"github.com/aep/healthdesk/config"
	"github.com/aep/healthdesk/kv"
	"github.com/spf13/cobra"
)

var CMD = &cobra.Command{
	Use:   "kv",
	Short: "direct low level access to the record store",
}

var prefix string

func init() {
	listCmd.Flags().StringVarP(&prefix, "prefix", "p", "", "only keys starting with this (escaped) prefix")

	CMD.AddCommand(listCmd)
	CMD.AddCommand(getCmd)
	CMD.AddCommand(putCmd)
	CMD.AddCommand(delCmd)
}

func open() (kv.KV, error) {
	return kv.Open(config.Current.KV)
}

// prefixEnd is the exclusive upper bound of all keys starting with p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:   "ls",
	Short: "List keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := open()
		if err != nil {
			return err
		}
		defer k.Close()

		start, err := kv.Unescape(prefix)
		if err != nil {
			return err
		}

		r := k.Read()
		defer r.Close()
		for item, err := range r.Iter(cmd.Context(), start, prefixEnd(start)) {
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kv.Escape(item.K))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get value for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := open()
		if err != nil {
			return err
		}
		defer k.Close()

		key, err := kv.Unescape(args[0])
		if err != nil {
			return err
		}
		r := k.Read()
		defer r.Close()
		v, err := r.Get(cmd.Context(), key)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%s: not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(v))
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put [key] [value]",
	Short: "Put a key-value pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := open()
		if err != nil {
			return err
		}
		defer k.Close()

		key, err := kv.Unescape(args[0])
		if err != nil {
			return err
		}
		w := k.Write()
		defer w.Close()
		if err := w.Put(key, []byte(args[1])); err != nil {
			return err
		}
		return w.Commit(cmd.Context())
	},
}

var delCmd = &cobra.Command{
	Use:     "del [key]",
	Aliases: []string{"rm"},
	Short:   "Delete a key-value pair",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := open()
		if err != nil {
			return err
		}
		defer k.Close()

		key, err := kv.Unescape(args[0])
		if err != nil {
			return err
		}
		w := k.Write()
		defer w.Close()
		if err := w.Del(key); err != nil {
			return err
		}
		return w.Commit(cmd.Context())
	},
}
