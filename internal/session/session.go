// Package session owns the identity of a learning visit: the session id, the
// resolved user id, the active flag and the content unit currently in view.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/transport"
)

// Notifier is the subset of the collection API the session reports to.
type Notifier interface {
	StartSession(ctx context.Context, userID, sessionID string) (transport.SessionStarted, error)
	EndSession(ctx context.Context, sessionID, userID string) error
	TrackSlideChange(ctx context.Context, sessionID string, sc transport.SlideChange) error
}

// Source resolves the current user. An error or an empty id means the user is
// unknown.
type Source interface {
	CurrentUser(ctx context.Context) (string, error)
}

// ContentUnit is the unit of learning content (a slide) currently in view.
type ContentUnit struct {
	ID        string
	StartTime time.Time
}

// Snapshot is a consistent copy of the identity state.
type Snapshot struct {
	UserID    string
	SessionID string
	Active    bool
	Last      *ContentUnit
}

// Identity holds per-visit identity state. All fields are written only through
// its methods; it is safe for concurrent use.
type Identity struct {
	notifier      Notifier
	source        Source
	clock         clockwork.Clock
	logger        *zap.Logger
	lookupTimeout time.Duration

	mu        sync.Mutex
	userID    string
	sessionID string
	active    bool
	last      *ContentUnit

	pending sync.WaitGroup
}

// Option configures an Identity.
type Option func(*Identity)

func WithSource(s Source) Option {
	return func(id *Identity) { id.source = s }
}

func WithClock(c clockwork.Clock) Option {
	return func(id *Identity) { id.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(id *Identity) { id.logger = l.Named("session") }
}

// WithLookupTimeout bounds ResolveUser. Defaults to 5s.
func WithLookupTimeout(d time.Duration) Option {
	return func(id *Identity) { id.lookupTimeout = d }
}

// New returns an inactive Identity using the anonymous placeholder user.
func New(n Notifier, opts ...Option) *Identity {
	id := &Identity{
		notifier:      n,
		clock:         clockwork.NewRealClock(),
		logger:        zap.NewNop(),
		lookupTimeout: 5 * time.Second,
		userID:        event.AnonymousUserID,
	}
	for _, opt := range opts {
		opt(id)
	}
	return id
}

// Start opens a new session. It is a no-op while a session is active. A
// failed start notification is logged and local tracking continues.
func (id *Identity) Start(ctx context.Context) {
	id.mu.Lock()
	if id.active {
		id.mu.Unlock()
		return
	}
	sessionID := uuid.NewString()
	id.sessionID = sessionID
	id.active = true
	userID := id.userID
	id.mu.Unlock()

	if _, err := id.notifier.StartSession(ctx, userID, sessionID); err != nil {
		id.logger.Warn("failed to start session", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	id.logger.Info("session started", zap.String("session_id", sessionID), zap.String("user_id", userID))
}

// End closes the current session. Local state is cleared before the end
// notification is sent, so a second call finds nothing to do. The
// notification itself is delivered even if ctx is cancelled.
func (id *Identity) End(ctx context.Context) {
	id.mu.Lock()
	sessionID, userID := id.sessionID, id.userID
	if sessionID == "" {
		id.mu.Unlock()
		return
	}
	id.sessionID = ""
	id.active = false
	id.mu.Unlock()

	if err := id.notifier.EndSession(ctx, sessionID, userID); err != nil {
		id.logger.Warn("failed to end session", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	id.logger.Info("session ended", zap.String("session_id", sessionID))
}

// ResolveUser looks up the current user and falls back to a generated
// anonymous id when the lookup fails. It returns the id now in effect.
func (id *Identity) ResolveUser(ctx context.Context) string {
	resolved := ""
	if id.source != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, id.lookupTimeout)
		user, err := id.source.CurrentUser(lookupCtx)
		cancel()
		if err != nil {
			id.logger.Info("using anonymous user for session", zap.Error(err))
		}
		resolved = user
	}
	if resolved == "" {
		resolved = "anonymous-" + uuid.NewString()
	}

	id.mu.Lock()
	id.userID = resolved
	id.mu.Unlock()
	id.logger.Debug("user resolved", zap.String("user_id", resolved))
	return resolved
}

// SetLastContentUnit overwrites the content unit pointer. nil clears it.
func (id *Identity) SetLastContentUnit(u *ContentUnit) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if u == nil {
		id.last = nil
		return
	}
	cp := *u
	id.last = &cp
}

// EnterContentUnit records unitID as the unit in view and, while a session is
// active, reports the transition in the background. The report carries the
// previous unit and the seconds spent on it.
func (id *Identity) EnterContentUnit(ctx context.Context, unitID string) {
	now := id.clock.Now()

	id.mu.Lock()
	prev := id.last
	id.last = &ContentUnit{ID: unitID, StartTime: now}
	sessionID, userID, active := id.sessionID, id.userID, id.active
	id.mu.Unlock()

	if !active {
		return
	}
	sc := transport.SlideChange{UserID: userID, NewSlideID: unitID}
	if prev != nil {
		sc.PreviousSlideID = prev.ID
		sc.TimeOnPrevious = now.Sub(prev.StartTime).Seconds()
	}

	id.pending.Add(1)
	go func() {
		defer id.pending.Done()
		if err := id.notifier.TrackSlideChange(ctx, sessionID, sc); err != nil {
			id.logger.Warn("failed to track slide change", zap.String("slide_id", unitID), zap.Error(err))
		}
	}()
}

// Wait blocks until background notifications have finished.
func (id *Identity) Wait() { id.pending.Wait() }

// Stamp returns the identity to attach to a new event.
func (id *Identity) Stamp() event.Stamp {
	id.mu.Lock()
	defer id.mu.Unlock()
	return event.Stamp{UserID: id.userID, SessionID: id.sessionID}
}

func (id *Identity) Snapshot() Snapshot {
	id.mu.Lock()
	defer id.mu.Unlock()
	s := Snapshot{UserID: id.userID, SessionID: id.sessionID, Active: id.active}
	if id.last != nil {
		cp := *id.last
		s.Last = &cp
	}
	return s
}

// Active reports whether a session is open.
func (id *Identity) Active() bool {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.active
}

// Clock returns the clock the identity timestamps transitions with.
func (id *Identity) Clock() clockwork.Clock { return id.clock }
