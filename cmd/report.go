package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/learntrace/internal/ingest"
	"github.com/fakeyudi/learntrace/internal/report"
)

var (
	reportFormat string
	reportOutput string
	reportDB     string
)

var reportCmd = &cobra.Command{
	Use:   "report [session-id]",
	Short: "Write a session report from the collector database",
	Long:  "Builds a report for the given session, or the most recently started one, and writes it as Markdown or JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		format := c.DefaultFormat
		if reportFormat != "" {
			format = reportFormat
		}
		renderer, ext, err := report.RendererFor(format)
		if err != nil {
			return err
		}
		dbPath := c.DatabasePath
		if reportDB != "" {
			dbPath = reportDB
		}

		store, err := ingest.OpenStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		sessionID := ""
		if len(args) == 1 {
			sessionID = args[0]
		} else {
			recent, err := store.Sessions(ctx, 1)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				return fmt.Errorf("no sessions recorded in %s", dbPath)
			}
			sessionID = recent[0].SessionID
		}

		r, err := report.Build(ctx, store, sessionID)
		if err != nil {
			return err
		}
		if p := GetProfile(); p != nil {
			r.Session.Author = p.Name
		}

		data, err := renderer.Render(r)
		if err != nil {
			return err
		}
		path := reportOutput
		if path == "" {
			path = filepath.Join(c.OutputDir, report.FileName(sessionID, ext))
		}
		if err := report.WriteFile(path, data); err != nil {
			return err
		}
		cmd.Printf("Report written to %s (%d events)\n", path, len(r.Events))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "", "output format: markdown or json (default from config)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output file (default <output_dir>/learntrace-<session>.<ext>)")
	reportCmd.Flags().StringVar(&reportDB, "db", "", "SQLite database path (default from config)")
	rootCmd.AddCommand(reportCmd)
}
