package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/learntrace/internal/config"
	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/ingest"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// sandbox points every path learntrace touches at a temp dir and clears flag
// values left over from earlier runs. It returns the default database path.
func sandbox(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	for _, k := range []string{config.EnvAPIURL, config.EnvDynamicContent, config.EnvLogFormat, config.EnvDatabase} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv(config.EnvLogLevel, "error")
	t.Chdir(tmp)

	plainOutput, followFile = false, false
	reportFormat, reportOutput, reportDB = "", "", ""
	statusDB = ""
	replayRealtime, replayAPIURL = false, ""
	setupName, setupUserID, setupFormat, setupOutDir = "", "", "", ""
	logLevel = ""

	return filepath.Join(tmp, "data", "learntrace", "events.db")
}

// seed stores one ended session with a few events.
func seed(t *testing.T, dbPath, sessionID string, start time.Time) {
	t.Helper()
	ctx := context.Background()
	store, err := ingest.OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	stamp := event.Stamp{UserID: "learner-1", SessionID: sessionID}
	var batch []event.Event
	for i, props := range []event.Properties{
		event.SlideViewed{SlideID: "intro", ContentType: event.ContentTextHeavy, TimeSpentSeconds: 42},
		event.KnowledgeCheck{QuestionID: "q1", Correct: true, UserAnswer: "2x", TimeToAnswerSeconds: 12},
		event.Confusion{ConfusionIndicator: event.IndicatorAskedQuestion, SlideWhenConfused: "intro"},
	} {
		e, err := event.New(props, stamp, start.Add(time.Duration(i+1)*time.Second))
		require.NoError(t, err)
		batch = append(batch, e)
	}
	require.NoError(t, store.StartSession(ctx, transport.SessionStart{UserID: "learner-1", SessionID: sessionID}, start))
	require.NoError(t, store.InsertEvents(ctx, batch))
	require.NoError(t, store.EndSession(ctx, transport.SessionEnd{UserID: "learner-1", SessionID: sessionID}, start.Add(5*time.Minute)))
}
