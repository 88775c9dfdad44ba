package transport

import "time"

// Ack is the collection endpoint's reply to a batch.
type Ack struct {
	Status  string `json:"status"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionStart is the body of POST /api/session/start.
type SessionStart struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

// SessionStarted is returned by the start endpoint.
type SessionStarted struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// SessionEnd is the body of POST /api/session/{id}/end.
type SessionEnd struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// FocusSample is the body of POST /api/session/{id}/focus.
type FocusSample struct {
	UserID     string  `json:"user_id"`
	SessionID  string  `json:"session_id"`
	IsFocused  bool    `json:"is_focused"`
	FocusScore float64 `json:"focus_score"`
}

// SlideChange is the body of POST /api/session/{id}/slide-change.
// TimeOnPrevious is in seconds.
type SlideChange struct {
	UserID          string  `json:"user_id"`
	NewSlideID      string  `json:"new_slide_id" binding:"required"`
	PreviousSlideID string  `json:"previous_slide_id"`
	TimeOnPrevious  float64 `json:"time_on_previous"`
}

// QuizResult is the body of POST /api/session/{id}/quiz-result.
type QuizResult struct {
	UserID  string  `json:"user_id"`
	SlideID string  `json:"slide_id"`
	QuizID  string  `json:"quiz_id" binding:"required"`
	Score   float64 `json:"score"`
	Passed  bool    `json:"passed"`
}

// Endpoint paths, relative to the API base URL.
const (
	PathEvents       = "/api/events"
	PathSessionStart = "/api/session/start"
)

func sessionPath(sessionID, action string) string {
	return "/api/session/" + sessionID + "/" + action
}
