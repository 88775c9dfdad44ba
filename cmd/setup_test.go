package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/learntrace/internal/profile"
	"github.com/fakeyudi/learntrace/internal/report"
)

func TestSetupFromFlags(t *testing.T) {
	sandbox(t)

	out, err := executeCommand(rootCmd, "setup", "--name", "Ada", "--user-id", "ada-1", "--format", "json", "--output-dir", "reports")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile saved for ada-1")

	p, err := profile.Load()
	require.NoError(t, err)
	assert.Equal(t, &profile.Profile{UserID: "ada-1", Name: "Ada", DefaultFormat: "json", OutputDir: "reports"}, p)

	// editing keeps what is not overridden
	setupName, setupUserID, setupFormat, setupOutDir = "", "", "", ""
	_, err = executeCommand(rootCmd, "setup", "--name", "Ada L.")
	require.NoError(t, err)
	p, err = profile.Load()
	require.NoError(t, err)
	assert.Equal(t, "ada-1", p.UserID)
	assert.Equal(t, "Ada L.", p.Name)
}

func TestProfileDrivesReportDefaults(t *testing.T) {
	db := sandbox(t)
	seed(t, db, "s1", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	_, err := executeCommand(rootCmd, "setup", "--name", "Ada", "--format", "json", "--output-dir", "reports")
	require.NoError(t, err)

	_, err = executeCommand(rootCmd, "report", "s1")
	require.NoError(t, err)

	r, err := report.ReadFile(filepath.Join("reports", report.FileName("s1", ".json")))
	require.NoError(t, err)
	assert.Equal(t, "Ada", r.Session.Author)
}
