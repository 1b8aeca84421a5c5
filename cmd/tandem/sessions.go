package main

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/internal/config"
	"github.com/tandem-dev/tandem/internal/store"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Long:  "List every session the store has recorded, most recently active first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			st, err := store.New(store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}, logr.Discard())
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.List(cmd.Context())
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "CONVERSATION", "MODEL", "MODE", "STATUS", "LAST ACTIVITY"})
			for _, rec := range recs {
				t.AppendRow(table.Row{
					rec.ID,
					rec.ConversationID,
					rec.Model,
					rec.Mode,
					rec.Status,
					rec.LastActivityAt.Format("2006-01-02 15:04:05"),
				})
			}
			t.Render()
			return nil
		},
	}
}
