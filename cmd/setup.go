package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/learntrace/internal/profile"
)

var (
	setupName   string
	setupUserID string
	setupFormat string
	setupOutDir string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create or edit the learner profile (re-run anytime)",
	// Bypass the root hook so setup works before a profile exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd, false)
	},
}

// runSetup prompts for the profile on a terminal, or builds it from flags
// otherwise. If firstRun is true, a welcome line is shown.
func runSetup(cmd *cobra.Command, firstRun bool) error {
	out := cmd.OutOrStdout()
	if firstRun {
		fmt.Fprintln(out, "  Let's set up your learner profile.")
	}

	var existing *profile.Profile
	if profile.Exists() {
		if p, err := profile.Load(); err == nil {
			existing = p
		}
	}

	var prof *profile.Profile
	if term.IsTerminal(os.Stdin.Fd()) {
		p, err := profile.RunSetup(os.Stdin, out, existing)
		if err != nil {
			return fmt.Errorf("setup cancelled: %w", err)
		}
		prof = p
	} else {
		prof = profile.Defaults()
		if existing != nil {
			*prof = *existing
		}
		applySetupFlags(prof)
	}

	if err := profile.Save(prof); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	fmt.Fprintf(out, "  ✓ Profile saved for %s.\n", prof.UserID)
	fmt.Fprintln(out, "  Run 'learntrace collect' and then 'learntrace replay <script>' to record a session.")
	return nil
}

func applySetupFlags(p *profile.Profile) {
	if setupName != "" {
		p.Name = setupName
	}
	if setupUserID != "" {
		p.UserID = setupUserID
	}
	if setupFormat == "json" || setupFormat == "markdown" {
		p.DefaultFormat = setupFormat
	}
	if setupOutDir != "" {
		p.OutputDir = setupOutDir
	}
}

func init() {
	setupCmd.Flags().StringVar(&setupName, "name", "", "name shown in reports (non-interactive)")
	setupCmd.Flags().StringVar(&setupUserID, "user-id", "", "learner id (non-interactive)")
	setupCmd.Flags().StringVar(&setupFormat, "format", "", "default report format: markdown or json (non-interactive)")
	setupCmd.Flags().StringVar(&setupOutDir, "output-dir", "", "default report directory (non-interactive)")
	rootCmd.AddCommand(setupCmd)
}
