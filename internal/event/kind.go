package event

// Kind identifies one of the closed set of behavioral event types.
type Kind string

const (
	KindSlideViewed    Kind = "slide_viewed"
	KindInteraction    Kind = "interaction_with_content"
	KindKnowledgeCheck Kind = "knowledge_check_completed"
	KindPacing         Kind = "pacing_behavior"
	KindConfusion      Kind = "confusion_detected"
	KindContextSwitch  Kind = "context_switch"
)

// Kinds lists every known kind in taxonomy order.
var Kinds = []Kind{
	KindSlideViewed,
	KindInteraction,
	KindKnowledgeCheck,
	KindPacing,
	KindConfusion,
	KindContextSwitch,
}

// Valid reports whether k is part of the taxonomy.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ContentType describes the dominant format of a content unit.
type ContentType string

const (
	ContentDiagramHeavy ContentType = "diagram-heavy"
	ContentTextHeavy    ContentType = "text-heavy"
	ContentVideo        ContentType = "video"
	ContentInteractive  ContentType = "interactive"
	ContentQuiz         ContentType = "quiz"
)

type InteractionType string

const (
	InteractionClickedExample    InteractionType = "clicked_example"
	InteractionHoveredDefinition InteractionType = "hovered_definition"
	InteractionExpandedDiagram   InteractionType = "expanded_diagram"
	InteractionPlayedSimulation  InteractionType = "played_simulation"
)

type ContentElement string

const (
	ElementInteractiveGraph ContentElement = "interactive_graph"
	ElementCodeSnippet      ContentElement = "code_snippet"
	ElementFormula          ContentElement = "formula"
	ElementConceptDiagram   ContentElement = "concept_diagram"
)

// Confidence is the learner's self-reported certainty for a quiz answer.
type Confidence string

const (
	ConfidenceGuessed      Confidence = "guessed"
	ConfidenceSomewhatSure Confidence = "somewhat_sure"
	ConfidenceConfident    Confidence = "confident"
)

// ConfusionIndicator names the signal that triggered a confusion event.
type ConfusionIndicator string

const (
	IndicatorRapidSwitching ConfusionIndicator = "rapid_slide_switching"
	IndicatorAbandonedQuiz  ConfusionIndicator = "abandoned_quiz"
	IndicatorExternalHelp   ConfusionIndicator = "searched_external_help"
	IndicatorAskedQuestion  ConfusionIndicator = "asked_question"
)

type SwitchTrigger string

const (
	TriggerAfterDifficultSlide SwitchTrigger = "after_difficult_slide"
	TriggerDuringVideo         SwitchTrigger = "during_video"
	TriggerRandom              SwitchTrigger = "random"
)

// SwitchedFromCourseSlides is the only origin a context switch can have.
const SwitchedFromCourseSlides = "course_slides"
