package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/storage"
)

func newHistoryCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "List, show and delete saved conversations",
	}
	cmd.AddCommand(
		newHistoryListCmd(o),
		newHistoryShowCmd(o),
		newHistoryDeleteCmd(o),
	)
	return cmd
}

func newHistoryListCmd(o *options) *cobra.Command {
	var (
		opts   storage.ListOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Order != "asc" && opts.Order != "desc" {
				return fmt.Errorf("invalid order %q (want asc or desc)", opts.Order)
			}
			ctx := ownerContext(cmd.Context())
			a, err := newStoreApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.List(ctx, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(o.out, list)
			}
			return writeSummaries(o.out, list)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.Limit, "limit", "n", storage.DefaultListLimit, "Maximum number of conversations")
	f.StringVar(&opts.After, "after", "", "List conversations after this ID")
	f.StringVar(&opts.Order, "order", "desc", "Sort by last update: asc or desc")
	f.BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newHistoryShowCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ownerContext(cmd.Context())
			a, err := newStoreApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			conv, err := a.store.Get(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(o.out, conv)
			}
			writeConversation(o.out, conv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newHistoryDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete saved conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ownerContext(cmd.Context())
			a, err := newStoreApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, id := range args {
				if err := a.store.Delete(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("deleting %s: %w", id, err))
					continue
				}
				fmt.Fprintf(o.errOut, "deleted %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummaries(w io.Writer, list *storage.ConversationList) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tTURNS\tTITLE")
	for _, s := range list.Data {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Turns, s.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if list.HasMore && len(list.Data) > 0 {
		fmt.Fprintf(w, "more: --after %s\n", list.Data[len(list.Data)-1].ID)
	}
	return nil
}

// writeConversation prints the turns of conv, tool activity included.
func writeConversation(w io.Writer, conv *api.Conversation) {
	fmt.Fprintf(w, "%s  (updated %s)\n", conv.ID, conv.UpdatedAt.Local().Format(time.DateTime))
	for _, t := range conv.Turns {
		if isPreset(t) {
			continue
		}
		fmt.Fprintf(w, "\n[%s]", t.Role)
		if t.Metadata["partial"] == true {
			fmt.Fprint(w, " (partial)")
		}
		fmt.Fprintln(w)
		for _, p := range t.Parts {
			switch p.Type {
			case api.PartText:
				fmt.Fprintln(w, strings.TrimRight(p.Text, "\n"))
			case api.PartToolCall:
				fmt.Fprintf(w, "-> %s(%s)\n", p.ToolCall.Name, p.ToolCall.Arguments)
			case api.PartToolResult:
				status := "ok"
				if p.ToolResult.IsError {
					status = "error"
				}
				fmt.Fprintf(w, "<- %s: %s\n", status, strings.TrimRight(p.ToolResult.Output, "\n"))
			}
		}
	}
}
