package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/heartbeat"
	"github.com/fakeyudi/learntrace/internal/profile"
	"github.com/fakeyudi/learntrace/internal/replay"
	"github.com/fakeyudi/learntrace/internal/tracker"
	"github.com/fakeyudi/learntrace/internal/transport"
)

var (
	replayRealtime bool
	replayAPIURL   string
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>...",
	Short: "Play scripted learner sessions through the event pipeline",
	Long: "Each script mounts a tracker, performs its steps (slides, quizzes, tab switches, waits)\n" +
		"and unmounts, sending everything to the configured API. Waits run on a simulated clock\n" +
		"unless --realtime is given.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		apiURL := c.APIURL
		if replayAPIURL != "" {
			apiURL = replayAPIURL
		}

		scripts := make([]*replay.Script, 0, len(args))
		for _, path := range args {
			s, err := replay.Load(path)
			if err != nil {
				return err
			}
			scripts = append(scripts, s)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := replay.NewRunner(tracker.Config{
			APIURL:            apiURL,
			BatchSize:         c.BatchSize,
			FlushInterval:     c.FlushInterval,
			HeartbeatInterval: c.HeartbeatInterval,
			Timeouts:          transport.Timeouts(c.Timeouts),
			DynamicContent:    c.DynamicContentEnabled(),
			Source:            profile.Source{},
			Scorer:            heartbeat.NewSimulatedScorer(nil),
			Logger:            logger,
		}, replayRealtime)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "API: %s  dynamic content: %t\n\n", apiURL, c.DynamicContentEnabled())
		tbl := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("SCRIPT", "SESSION", "USER", "STEPS", "ELAPSED", "EVENTS", "BATCHES", "FAILED", "DROPPED")
		var failed error
		for _, s := range scripts {
			res, err := runner.Run(ctx, s)
			tbl.Row(res.Script, res.SessionID, res.UserID,
				fmt.Sprintf("%d/%d", res.Steps, len(s.Steps)),
				res.Elapsed.String(),
				strconv.Itoa(res.Enqueued),
				strconv.Itoa(res.Delivered+res.Beacons),
				strconv.Itoa(res.Failed),
				strconv.Itoa(res.Dropped))
			if err != nil {
				logger.Error("replay failed", zap.String("script", s.Name), zap.Error(err))
				failed = fmt.Errorf("%s: %w", s.Name, err)
				break
			}
		}
		fmt.Fprintln(out, tbl.String())
		return failed
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "wait in real time instead of on a simulated clock")
	replayCmd.Flags().StringVar(&replayAPIURL, "api-url", "", "override the configured API base URL")
	rootCmd.AddCommand(replayCmd)
}
