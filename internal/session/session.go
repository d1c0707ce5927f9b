package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medvoice/internal/apperrors"
	"medvoice/internal/clips"
	"medvoice/internal/events"
	"medvoice/internal/metrics"
	"medvoice/internal/pipeline"
	"medvoice/internal/provider"
)

// Config tunes session behavior.
type Config struct {
	// GracefulDegradation converts an unexpected turn failure into a fixed
	// spoken fallback instead of an error result.
	GracefulDegradation bool `yaml:"graceful_degradation" json:"graceful_degradation"`
}

// DefaultConfig enables graceful degradation.
func DefaultConfig() Config {
	return Config{GracefulDegradation: true}
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Clips        clips.Store
	Bus          *events.Bus
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// TransitionFunc observes one state change. Callbacks run synchronously on
// the turn goroutine, before the turn proceeds.
type TransitionFunc func(sessionID string, from, to State)

// StateChange is the bus payload for a session transition.
type StateChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// TurnOutcome is what the session reports for one processed turn.
type TurnOutcome struct {
	Result *pipeline.TurnResult `json:"result"`

	// DegradationApplied marks a turn whose failure was converted into the
	// fixed fallback response.
	DegradationApplied bool `json:"degradation_applied"`
}

// TurnError is the structured failure returned when graceful degradation is
// off: the stage the turn died in plus the cause.
type TurnError struct {
	Stage string
	Err   error
}

func (e *TurnError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("turn failed: %v", e.Err)
	}
	return fmt.Sprintf("turn failed in %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Session drives the pipeline for one conversation. Turns are processed one
// at a time; the session walks its state machine as the orchestrator crosses
// stage boundaries.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg  Config
	deps Deps

	turnMu sync.Mutex // one turn at a time

	mu         sync.RWMutex
	state      State
	callbacks  []TransitionFunc
	closed     bool
	lastTurnAt time.Time
	turns      int
	degraded   int
	failed     int
}

// Snapshot is a read-only view of a session for the ops surface.
type Snapshot struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	LastTurnAt    time.Time `json:"last_turn_at,omitempty"`
	Turns         int       `json:"turns"`
	DegradedTurns int       `json:"degraded_turns"`
	FailedTurns   int       `json:"failed_turns"`
}

// New creates an idle session. An empty id gets a generated one.
func New(id string, cfg Config, deps Deps) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clips == nil {
		deps.Clips = clips.DefaultStatic()
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		deps:      deps,
		state:     StateIdle,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnTransition registers a synchronous state-change callback.
func (s *Session) OnTransition(fn TransitionFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Snapshot returns a point-in-time view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:            s.ID,
		State:         s.state,
		CreatedAt:     s.CreatedAt,
		LastTurnAt:    s.lastTurnAt,
		Turns:         s.turns,
		DegradedTurns: s.degraded,
		FailedTurns:   s.failed,
	}
}

// Close permanently rejects further turns. A turn already running finishes.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// ProcessTurn runs one utterance through the pipeline, serialized against
// other turns on the same session. An unexpected failure either degrades to
// the fixed fallback response or returns a TurnError, per configuration.
func (s *Session) ProcessTurn(ctx context.Context, req pipeline.TurnRequest) (*TurnOutcome, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if s.isClosed() {
		return nil, apperrors.ErrSessionClosed
	}

	req.SessionID = s.ID
	lastStage := ""
	callerHook := req.StageHook
	req.StageHook = func(stage string) {
		lastStage = stage
		s.set(stageState(stage))
		if callerHook != nil {
			callerHook(stage)
		}
	}

	s.set(StateListeningAudio)
	res, err := s.runTurn(ctx, req)
	if err != nil {
		return s.failTurn(req, lastStage, err)
	}

	s.set(StateSpeaking)
	s.set(StateIdle)
	s.noteTurn(res.Status == pipeline.StatusDegraded, false)
	return &TurnOutcome{Result: res}, nil
}

// runTurn isolates the orchestrator call so a panic anywhere in a stage
// surfaces as an error on this session instead of tearing the process down.
func (s *Session) runTurn(ctx context.Context, req pipeline.TurnRequest) (res *pipeline.TurnResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = apperrors.Newf("turn panic: %v", r)
			s.deps.Logger.Error("turn panicked",
				zap.String("session_id", s.ID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	return s.deps.Orchestrator.RunTurn(ctx, req)
}

// failTurn converts a dead turn into either the fixed fallback response or a
// structured error. Either way the session passes through error and is back
// at idle for the next turn.
func (s *Session) failTurn(req pipeline.TurnRequest, stage string, cause error) (*TurnOutcome, error) {
	s.set(StateError)
	defer s.set(StateIdle)
	s.noteTurn(s.cfg.GracefulDegradation, !s.cfg.GracefulDegradation)

	if !s.cfg.GracefulDegradation {
		return nil, &TurnError{Stage: stage, Err: cause}
	}

	res := &pipeline.TurnResult{
		TurnID:    req.TurnID,
		SessionID: s.ID,
		Status:    pipeline.StatusDegraded,
	}
	if clip, ok := s.deps.Clips.Clip(clips.NameError); ok {
		res.Answer = clip.Text
		res.Speech = &provider.Speech{
			Audio:    clip.Audio,
			Format:   clip.Format,
			Provider: "clips",
			Cached:   true,
		}
	}
	s.deps.Logger.Warn("turn degraded to fallback response",
		zap.String("session_id", s.ID),
		zap.String("stage", stage),
		zap.Error(cause))
	return &TurnOutcome{Result: res, DegradationApplied: true}, nil
}

func (s *Session) noteTurn(degraded, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTurnAt = time.Now()
	s.turns++
	if degraded {
		s.degraded++
	}
	if failed {
		s.failed++
	}
}

// set advances the state machine. Same-state moves are no-ops; an illegal
// move is dropped and logged rather than crashing a live turn.
func (s *Session) set(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.deps.Logger.Warn("illegal session transition dropped",
			zap.String("session_id", s.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return
	}
	s.state = to
	callbacks := append([]TransitionFunc(nil), s.callbacks...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(s.ID, from, to)
	}
	s.deps.Bus.Publish(events.Event{
		Type:      events.TypeSessionState,
		SessionID: s.ID,
		Payload:   StateChange{From: from, To: to},
	})
	s.deps.Logger.Debug("session state",
		zap.String("session_id", s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}
