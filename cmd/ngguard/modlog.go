package main

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	"github.com/iamwavecut/ngguard/internal/handlers/guard"
)

func newModlogCmd() *cobra.Command {
	var (
		dotPath string
		chatID  int64
		userID  int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "modlog",
		Short: "Print recent sanctions of a chat from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := homedir.Expand(dotPath)
			if err != nil {
				return err
			}
			journal, err := sqlite.NewSQLiteClient(cmd.Context(), dir, dbFileName)
			if err != nil {
				return err
			}
			defer journal.Close()

			var entries []*db.Sanction
			if userID != 0 {
				entries, err = journal.ListUserSanctions(cmd.Context(), chatID, userID, limit)
			} else {
				entries, err = journal.ListSanctions(cmd.Context(), chatID, limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no sanctions")
				return nil
			}
			for _, s := range entries {
				fmt.Fprintln(out, guard.FormatSanction(s))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dotPath, "dot-path", "~/.ngguard", "data directory holding the journal")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "chat id")
	cmd.Flags().Int64Var(&userID, "user", 0, "only sanctions of this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries, up to 500")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}
