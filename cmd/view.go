package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/learntrace/internal/report"
	"github.com/fakeyudi/learntrace/internal/tui"
)

var (
	plainOutput bool
	followFile  bool
)

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View a session report file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		r, err := report.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		if !followFile {
			if plainOutput {
				printReport(cmd.OutOrStdout(), r)
				return nil
			}
			return tui.Run(r, path, nil)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		if plainOutput {
			printReport(cmd.OutOrStdout(), r)
			g.Go(func() error {
				return report.Watch(gctx, path, logger, func(r *report.Report) {
					fmt.Fprintln(cmd.OutOrStdout(), "---")
					printReport(cmd.OutOrStdout(), r)
				})
			})
			return g.Wait()
		}

		updates := make(chan *report.Report, 1)
		g.Go(func() error {
			defer close(updates)
			return report.Watch(gctx, path, logger, func(r *report.Report) {
				// keep only the newest pending report
				select {
				case <-updates:
				default:
				}
				updates <- r
			})
		})
		g.Go(func() error {
			defer stop()
			return tui.Run(r, path, updates)
		})
		return g.Wait()
	},
}

// printReport writes the plain-text form of r.
func printReport(w io.Writer, r *report.Report) {
	fmt.Fprint(w, report.Text(r))
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	viewCmd.Flags().BoolVar(&followFile, "follow", false, "reload when the file changes on disk")
	rootCmd.AddCommand(viewCmd)
}
