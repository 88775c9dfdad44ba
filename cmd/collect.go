package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/learntrace/internal/ingest"
)

var (
	collectAddr  string
	collectDB    string
	collectEvery time.Duration
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the development collector that trackers report to",
	Long: "Serves the event, session, focus, slide-change and quiz-result endpoints,\n" +
		"stores everything in SQLite, and exposes /healthz and /metrics.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		addr := c.CollectorAddr
		if collectAddr != "" {
			addr = collectAddr
		}
		dbPath := c.DatabasePath
		if collectDB != "" {
			dbPath = collectDB
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := ingest.OpenStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gin.SetMode(gin.ReleaseMode)
		srv := ingest.NewServer(store, ingest.ServerOptions{Logger: logger, Registry: reg})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, addr, 5*time.Second)
		})
		if collectEvery > 0 {
			g.Go(func() error {
				logTotals(gctx, store, clockwork.NewRealClock(), collectEvery)
				return nil
			})
		}
		return g.Wait()
	},
}

// logTotals logs the store totals every interval until ctx is done.
func logTotals(ctx context.Context, store *ingest.Store, clock clockwork.Clock, every time.Duration) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t, err := store.Totals(ctx)
			if err != nil {
				logger.Warn("failed to read totals", zap.Error(err))
				continue
			}
			logger.Info("collector totals", zap.Int("sessions", t.Sessions), zap.Int("events", t.Events))
		}
	}
}

func init() {
	collectCmd.Flags().StringVar(&collectAddr, "addr", "", "listen address (default from config, 127.0.0.1:8000)")
	collectCmd.Flags().StringVar(&collectDB, "db", "", "SQLite database path (default from config)")
	collectCmd.Flags().DurationVar(&collectEvery, "report-every", time.Minute, "log collector totals at this interval (0 disables)")
	rootCmd.AddCommand(collectCmd)
}
