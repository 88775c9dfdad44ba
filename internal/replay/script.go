// Package replay drives a tracker through a scripted learner session, the
// way a host page would, so the whole pipeline can be exercised from a file.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fakeyudi/learntrace/internal/event"
)

// Action names one scripted learner action.
type Action string

const (
	ActSlide           Action = "slide"
	ActVideoPause      Action = "video_pause"
	ActZoom            Action = "zoom"
	ActReplayAnimation Action = "replay_animation"
	ActNavigate        Action = "navigate"
	ActInteraction     Action = "interaction"
	ActQuiz            Action = "quiz"
	ActAttempt         Action = "attempt"
	ActNotes           Action = "notes"
	ActConfused        Action = "confused"
	ActHide            Action = "hide"
	ActShow            Action = "show"
	ActPaste           Action = "paste"
	ActPause           Action = "pause"
	ActPace            Action = "pace"
	ActWait            Action = "wait"
	ActFlush           Action = "flush"
	ActUnload          Action = "unload"
)

// Script is a named sequence of steps.
type Script struct {
	Name  string `yaml:"name"`
	User  string `yaml:"user"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// Step is one action. Which fields matter depends on Do.
type Step struct {
	Do          Action                   `yaml:"do" validate:"required,oneof=slide video_pause zoom replay_animation navigate interaction quiz attempt notes confused hide show paste pause pace wait flush unload"`
	Slide       string                   `yaml:"slide" validate:"required_if=Do slide"`
	Content     event.ContentType        `yaml:"content" validate:"required_if=Do slide,omitempty,oneof=diagram-heavy text-heavy video interactive quiz"`
	Direction   string                   `yaml:"direction" validate:"required_if=Do navigate,omitempty,oneof=back forward"`
	Interaction event.InteractionType    `yaml:"interaction" validate:"required_if=Do interaction,omitempty,oneof=clicked_example hovered_definition expanded_diagram played_simulation"`
	Element     event.ContentElement     `yaml:"element" validate:"required_if=Do interaction,omitempty,oneof=interactive_graph code_snippet formula concept_diagram"`
	Successful  *bool                    `yaml:"successful"`
	Question    string                   `yaml:"question"`
	Answer      string                   `yaml:"answer"`
	Correct     bool                     `yaml:"correct"`
	Confidence  event.Confidence         `yaml:"confidence" validate:"omitempty,oneof=guessed somewhat_sure confident"`
	Indicator   event.ConfusionIndicator `yaml:"indicator" validate:"omitempty,oneof=abandoned_quiz searched_external_help asked_question"`
	Pace        string                   `yaml:"pace" validate:"required_if=Do pace,omitempty,oneof=slow_down skip_ahead"`
	For         time.Duration            `yaml:"for" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and checks a script. Unknown keys are errors.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty replay script")
		}
		return nil, fmt.Errorf("decode replay script: %w", err)
	}
	if err := validate.Struct(&s); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return nil, describe(ve)
		}
		return nil, err
	}
	for i, st := range s.Steps {
		if (st.Do == ActWait || st.Do == ActPause) && st.For <= 0 {
			return nil, fmt.Errorf("step %d (%s): needs a positive 'for' duration", i+1, st.Do)
		}
	}
	return &s, nil
}

// Load reads a script from path.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

func describe(ve validator.ValidationErrors) error {
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Script."), fe.Tag()))
	}
	return fmt.Errorf("invalid replay script: %s", strings.Join(msgs, "; "))
}
