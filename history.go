package main

import (
	"github.com/spf13/cobra"

	"github.com/phobologic/codeheal/internal/archive"
)

func (a *app) historyCmd() *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List archived sessions or show one",
		Long: `List archived heal sessions, newest first. With a session id (or a
unique prefix of one) the full session is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.renderer(format)
			if err != nil {
				return err
			}
			store, err := archive.Open(a.cfg.Archive.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				s, err := store.Get(args[0])
				if err != nil {
					return err
				}
				return r.Session(a.stdout, s)
			}
			entries, err := store.List(limit)
			if err != nil {
				return err
			}
			return r.History(a.stdout, entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum sessions to list (0 for all)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json, yaml, toon)")
	return cmd
}
