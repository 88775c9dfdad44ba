package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/ingest"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the collector has recorded so far",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := GetConfig().DatabasePath
		if statusDB != "" {
			dbPath = statusDB
		}
		store, err := ingest.OpenStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.Totals(cmd.Context())
		if err != nil {
			return err
		}
		if t.Sessions == 0 && t.Events == 0 {
			cmd.Println("no sessions recorded")
			return nil
		}

		cmd.Printf("Database: %s\n", dbPath)
		cmd.Printf("Sessions: %d\n", t.Sessions)
		cmd.Printf("Events: %d\n", t.Events)
		for _, k := range event.Kinds {
			cmd.Printf("  %s: %d\n", k, t.ByKind[k])
		}
		if t.LastEvent != nil {
			cmd.Printf("Last event: %s (%s ago)\n", t.LastEvent.Format(time.RFC3339), time.Since(*t.LastEvent).Round(time.Second))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "", "SQLite database path (default from config)")
	rootCmd.AddCommand(statusCmd)
}
