package event

// Properties is the kind-specific payload of an Event. The set of
// implementations is closed: only the types in this file satisfy it.
type Properties interface {
	Kind() Kind
	sealed()
}

// SlideViewed is emitted once when a learner leaves a content unit.
type SlideViewed struct {
	SlideID           string      `json:"slide_id" validate:"required"`
	ContentType       ContentType `json:"content_type" validate:"required,oneof=diagram-heavy text-heavy video interactive quiz"`
	TimeSpentSeconds  float64     `json:"time_spent_seconds" validate:"gte=0"`
	ScrolledBack      *bool       `json:"scrolled_back,omitempty"`
	SkippedForward    *bool       `json:"skipped_forward,omitempty"`
	PausedVideo       *bool       `json:"paused_video,omitempty"`
	ReplayedAnimation *bool       `json:"replayed_animation,omitempty"`
	ZoomedIntoDiagram *bool       `json:"zoomed_into_diagram,omitempty"`
}

// Interaction is emitted when a timed interaction with a content element ends.
type Interaction struct {
	InteractionType       InteractionType `json:"interaction_type" validate:"required,oneof=clicked_example hovered_definition expanded_diagram played_simulation"`
	ContentElement        ContentElement  `json:"content_element" validate:"required,oneof=interactive_graph code_snippet formula concept_diagram"`
	InteractionDuration   *float64        `json:"interaction_duration,omitempty" validate:"omitempty,gte=0"`
	RepeatedInteraction   *bool           `json:"repeated_interaction,omitempty"`
	SuccessfulInteraction *bool           `json:"successful_interaction,omitempty"`
}

// KnowledgeCheck records a submitted quiz answer.
type KnowledgeCheck struct {
	QuestionID              string      `json:"question_id" validate:"required"`
	SlideFormatJustSeen     string      `json:"slide_format_just_seen"`
	Correct                 bool        `json:"correct"`
	UserAnswer              string      `json:"user_answer"`
	TimeToAnswerSeconds     float64     `json:"time_to_answer_seconds" validate:"gte=0"`
	ConfidenceLevel         *Confidence `json:"confidence_level,omitempty" validate:"omitempty,oneof=guessed somewhat_sure confident"`
	AttemptsBeforeCorrect   *int        `json:"attempts_before_correct,omitempty" validate:"omitempty,gte=0"`
	ConsultedNotes          *bool       `json:"consulted_notes,omitempty"`
	WentBackToPreviousSlide *bool       `json:"went_back_to_previous_slide,omitempty"`
}

// Pacing summarizes how quickly a learner moves through content.
type Pacing struct {
	SlidesPerMinute    float64  `json:"slides_per_minute" validate:"gte=0"`
	PausesTaken        *int     `json:"pauses_taken,omitempty" validate:"omitempty,gte=0"`
	PauseDurationAvg   *float64 `json:"pause_duration_avg,omitempty" validate:"omitempty,gte=0"`
	SkippedSlides      []string `json:"skipped_slides,omitempty"`
	RequestedSlowDown  *bool    `json:"requested_slow_down,omitempty"`
	RequestedSkipAhead *bool    `json:"requested_skip_ahead,omitempty"`
}

// Confusion flags a likely comprehension problem on a content unit.
type Confusion struct {
	ConfusionIndicator    ConfusionIndicator `json:"confusion_indicator" validate:"required,oneof=rapid_slide_switching abandoned_quiz searched_external_help asked_question"`
	SlideWhenConfused     string             `json:"slide_when_confused" validate:"required"`
	TimeSpentConfused     *float64           `json:"time_spent_confused,omitempty" validate:"omitempty,gte=0"`
	SelfReportedConfusion *bool              `json:"self_reported_confusion,omitempty"`
}

// ContextSwitch records a learner leaving the course and coming back.
// TimeAway is in minutes.
type ContextSwitch struct {
	SwitchedFrom           string         `json:"switched_from" validate:"eq=course_slides"`
	SwitchTrigger          *SwitchTrigger `json:"switch_trigger,omitempty" validate:"omitempty,oneof=after_difficult_slide during_video random"`
	TimeAway               float64        `json:"time_away" validate:"gte=0"`
	Returned               bool           `json:"returned"`
	BroughtBackInformation *bool          `json:"brought_back_information,omitempty"`
}

func (SlideViewed) Kind() Kind { return KindSlideViewed }
func (Interaction) Kind() Kind { return KindInteraction }
func (KnowledgeCheck) Kind() Kind { return KindKnowledgeCheck }
func (Pacing) Kind() Kind { return KindPacing }
func (Confusion) Kind() Kind { return KindConfusion }
func (ContextSwitch) Kind() Kind { return KindContextSwitch }

func (SlideViewed) sealed() {}
func (Interaction) sealed() {}
func (KnowledgeCheck) sealed() {}
func (Pacing) sealed() {}
func (Confusion) sealed() {}
func (ContextSwitch) sealed() {}

// Bool returns a pointer to b, for optional flag fields.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to n.
func Int(n int) *int { return &n }
