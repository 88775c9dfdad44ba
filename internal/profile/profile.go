// Package profile manages the learner's persistent identity profile.
// The profile is stored at ~/.config/learntrace/profile.json and is created
// once via the setup flow. It is the identity source used to resolve the user
// of a tracked session.
package profile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNoProfile is returned when no profile has been set up.
var ErrNoProfile = errors.New("no learner profile, run 'learntrace setup'")

// Profile holds learner-level settings set during setup.
type Profile struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	DefaultFormat string `json:"default_format"` // "markdown" | "json"
	OutputDir     string `json:"output_dir"`     // default report output dir
}

// profilePath returns the path to the profile file.
func profilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// ConfigDir returns the learntrace config directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "learntrace"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := profilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. A missing file yields ErrNoProfile.
func Load() (*Profile, error) {
	p, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoProfile
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile to disk, creating the config directory if needed.
func Save(prof *Profile) error {
	p, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Source resolves the session user from the saved profile.
type Source struct{}

// CurrentUser returns the profile's user id. ctx is unused; the lookup is a
// local file read.
func (Source) CurrentUser(context.Context) (string, error) {
	prof, err := Load()
	if err != nil {
		return "", err
	}
	if prof.UserID == "" {
		return "", fmt.Errorf("profile has no user id: %w", ErrNoProfile)
	}
	return prof.UserID, nil
}

// Defaults returns the profile used when setup runs non-interactively.
func Defaults() *Profile {
	return &Profile{
		UserID:        "learner-" + uuid.NewString(),
		DefaultFormat: "markdown",
		OutputDir:     ".",
	}
}

// RunSetup prompts on out, reads answers from in and returns the resulting
// profile. If existing is non-nil, it is used as the default for each prompt
// (edit mode). The user id is kept across edits.
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Profile, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	prof := Defaults()
	if existing != nil {
		*prof = *existing
		if prof.UserID == "" {
			prof.UserID = Defaults().UserID
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │  learntrace · learner profile   │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	prof.Name, err = ask("  Your name (shown in reports)", prof.Name)
	if err != nil {
		return nil, err
	}

	prof.UserID, err = ask("  Learner id", prof.UserID)
	if err != nil {
		return nil, err
	}

	format, err := ask("  Default report format (markdown/json)", prof.DefaultFormat)
	if err != nil {
		return nil, err
	}
	if format == "json" {
		prof.DefaultFormat = "json"
	} else {
		prof.DefaultFormat = "markdown"
	}

	prof.OutputDir, err = ask("  Default report directory", prof.OutputDir)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	return prof, nil
}
