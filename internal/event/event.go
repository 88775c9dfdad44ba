// Package event defines the closed taxonomy of behavioral events and their
// wire encoding.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Placeholder identifiers used before identity resolution completes.
const (
	AnonymousUserID  = "anonymous_user"
	PendingSessionID = "pending"
)

// TimeLayout is the wire format of Event timestamps: ISO-8601 in UTC with
// millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Stamp carries the identity attached to every event at capture time.
type Stamp struct {
	UserID    string
	SessionID string
}

// Event is an immutable behavioral record. Construct with New; the zero value
// is not a valid event.
type Event struct {
	kind      Kind
	timestamp time.Time
	userID    string
	sessionID string
	props     Properties
}

// New validates props and builds an Event captured at at. Empty identity
// fields are replaced with the placeholder ids.
func New(props Properties, stamp Stamp, at time.Time) (Event, error) {
	if err := Validate(props); err != nil {
		return Event{}, err
	}
	if stamp.UserID == "" {
		stamp.UserID = AnonymousUserID
	}
	if stamp.SessionID == "" {
		stamp.SessionID = PendingSessionID
	}
	return Event{
		kind:      props.Kind(),
		timestamp: at.UTC().Truncate(time.Millisecond),
		userID:    stamp.UserID,
		sessionID: stamp.SessionID,
		props:     props,
	}, nil
}

func (e Event) Kind() Kind { return e.kind }
func (e Event) Timestamp() time.Time { return e.timestamp }
func (e Event) UserID() string { return e.userID }
func (e Event) SessionID() string { return e.sessionID }
func (e Event) Properties() Properties { return e.props }

// wireEvent is the JSON shape exchanged with the collection endpoint.
type wireEvent struct {
	Event      Kind            `json:"event"`
	Timestamp  string          `json:"timestamp"`
	UserID     string          `json:"user_id"`
	SessionID  string          `json:"session_id"`
	Properties json.RawMessage `json:"properties"`
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.props == nil {
		return nil, errors.New("marshal event: zero value")
	}
	var (
		props []byte
		err   error
	)
	switch p := e.props.(type) {
	case SlideViewed:
		props, err = json.Marshal(p)
	case Interaction:
		props, err = json.Marshal(p)
	case KnowledgeCheck:
		props, err = json.Marshal(p)
	case Pacing:
		props, err = json.Marshal(p)
	case Confusion:
		props, err = json.Marshal(p)
	case ContextSwitch:
		props, err = json.Marshal(p)
	default:
		return nil, fmt.Errorf("marshal event: unknown properties type %T", p)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s properties: %w", e.kind, err)
	}
	return json.Marshal(wireEvent{
		Event:      e.kind,
		Timestamp:  e.timestamp.Format(TimeLayout),
		UserID:     e.userID,
		SessionID:  e.sessionID,
		Properties: props,
	})
}

// UnmarshalJSON decodes and validates a wire-form event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("decode %s timestamp: %w", w.Event, err)
	}
	props, err := decodeProperties(w.Event, w.Properties)
	if err != nil {
		return err
	}
	decoded, err := New(props, Stamp{UserID: w.UserID, SessionID: w.SessionID}, ts)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

func decodeProperties(kind Kind, raw json.RawMessage) (Properties, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Kind: kind, Err: errors.New("missing properties")}
	}
	if err := checkRequired(kind, raw); err != nil {
		return nil, err
	}
	var (
		p   Properties
		err error
	)
	switch kind {
	case KindSlideViewed:
		var v SlideViewed
		err = json.Unmarshal(raw, &v)
		p = v
	case KindInteraction:
		var v Interaction
		err = json.Unmarshal(raw, &v)
		p = v
	case KindKnowledgeCheck:
		var v KnowledgeCheck
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPacing:
		var v Pacing
		err = json.Unmarshal(raw, &v)
		p = v
	case KindConfusion:
		var v Confusion
		err = json.Unmarshal(raw, &v)
		p = v
	case KindContextSwitch:
		var v ContextSwitch
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, &ValidationError{Kind: kind, Err: fmt.Errorf("unknown event kind %q", kind)}
	}
	if err != nil {
		return nil, &ValidationError{Kind: kind, Err: err}
	}
	return p, nil
}

// requiredKeys lists the properties every record of a kind must carry.
// Scalars decode to their zero value when absent, so presence is checked on
// the raw object before decoding.
var requiredKeys = map[Kind][]string{
	KindSlideViewed:    {"slide_id", "content_type", "time_spent_seconds"},
	KindInteraction:    {"interaction_type", "content_element"},
	KindKnowledgeCheck: {"question_id", "slide_format_just_seen", "correct", "user_answer", "time_to_answer_seconds"},
	KindPacing:         {"slides_per_minute"},
	KindConfusion:      {"confusion_indicator", "slide_when_confused"},
	KindContextSwitch:  {"switched_from", "time_away", "returned"},
}

func checkRequired(kind Kind, raw json.RawMessage) error {
	keys, ok := requiredKeys[kind]
	if !ok {
		return &ValidationError{Kind: kind, Err: fmt.Errorf("unknown event kind %q", kind)}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &ValidationError{Kind: kind, Err: err}
	}
	ve := &ValidationError{Kind: kind}
	for _, k := range keys {
		if v, ok := fields[k]; !ok || string(v) == "null" {
			ve.Fields = append(ve.Fields, FieldError{Field: k, Rule: "required"})
		}
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}
