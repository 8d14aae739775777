// Package recognition ties the person store, matcher and cooldown gate into a
// polling recognition session.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/cooldown"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/matcher"
	"github.com/kozaktomas/familiar-faces/internal/person"
)

var (
	ErrAlreadyRunning = errors.New("session already started")
	ErrNotRunning     = errors.New("session not running")
	// ErrCollaborator wraps failures of the frame source or detector.
	ErrCollaborator = errors.New("collaborator failure")
	// ErrBusy is returned by RunCycle while another cycle is in flight.
	ErrBusy = errors.New("recognition cycle in flight")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Persons provides the current person snapshot.
type Persons interface {
	List() *person.Snapshot
}

// Result describes the outcome for one face.
type Result struct {
	BBox       BBox    `json:"bbox"`
	PersonID   string  `json:"person_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity"`
	Known      bool    `json:"known"`
	Announced  bool    `json:"announced"`
}

// Options configures a Session.
type Options struct {
	Matcher  matcher.Resolver
	Gate     *cooldown.Gate
	Detector Detector
	Consumer Consumer
	// ConfidenceThreshold discards detections scoring below it before matching.
	ConfidenceThreshold float64
	PollInterval        time.Duration
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Session recognizes faces from one frame source.
//
// A Session is started once and stopped once; a stopped Session cannot be
// restarted. After Stop returns no further events are handed to the consumer.
type Session struct {
	persons    Persons
	matcher    matcher.Resolver
	gate       *cooldown.Gate
	detector   Detector
	consumer   Consumer
	confidence float64
	poll       time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex // guards state transitions and event dispatch
	state  State
	source FrameSource
	cancel context.CancelFunc
	done   chan struct{}

	inFlight atomic.Bool
	cycles   sync.WaitGroup

	// Deliveries hold the read side while handing an event to the consumer;
	// Stop takes the write side once the state is Stopped.
	delivering sync.RWMutex

	resultsMu   sync.RWMutex
	lastResults []Result
	lastCycle   time.Time
}

// NewSession creates an idle session over persons.
func NewSession(persons Persons, opts Options) *Session {
	if opts.Matcher == nil {
		opts.Matcher = matcher.NewExact(constants.DefaultSimilarityThreshold)
	}
	if opts.Gate == nil {
		opts.Gate = cooldown.NewGate(constants.DefaultCooldownSeconds * time.Second)
	}
	if opts.Consumer == nil {
		opts.Consumer = ConsumerFunc(func(Event) {})
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.DefaultPollIntervalMs * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		persons:    persons,
		matcher:    opts.Matcher,
		gate:       opts.Gate,
		detector:   opts.Detector,
		consumer:   opts.Consumer,
		confidence: opts.ConfidenceThreshold,
		poll:       opts.PollInterval,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Gate returns the cooldown gate used by the session.
func (s *Session) Gate() *cooldown.Gate {
	return s.gate
}

// Start moves the session to Running. When source is non-nil a polling loop
// captures and processes a frame every poll interval until Stop is called or
// ctx is cancelled. With a nil source the session only accepts Ingest calls.
func (s *Session) Start(ctx context.Context, source FrameSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: state is %s", ErrAlreadyRunning, s.state)
	}
	if source != nil && s.detector == nil {
		return errors.New("polling requires a detector")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.state = StateRunning
	s.source = source
	s.cancel = cancel
	s.done = make(chan struct{})

	if source == nil {
		close(s.done)
	} else {
		go s.run(loopCtx)
	}
	s.logger.Info("recognition session started", "poll_interval", s.poll, "polling", source != nil)
	return nil
}

// Stop ends the session and waits for the polling loop, any in-flight cycle
// and any consumer call already under way. Events not yet handed to the
// consumer are dropped. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.delivering.Lock() //nolint:staticcheck // waits out running deliveries
	s.delivering.Unlock()
	if prev == StateRunning {
		s.logger.Info("recognition session stopped")
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cycles.Wait()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.logger.Debug("previous cycle still running, skipping tick")
				continue
			}
			s.cycles.Add(1)
			go func() {
				defer s.cycles.Done()
				defer s.inFlight.Store(false)
				s.logCycleError(s.cycle(ctx))
			}()
		}
	}
}

func (s *Session) logCycleError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrFrameUnavailable):
		s.logger.Debug("no frame this tick", "error", err)
	case errors.Is(err, ErrNotRunning):
	default:
		s.logger.Warn("recognition cycle skipped", "error", err)
	}
}

// RunCycle performs one unit of work: capture, detect, resolve, gate and emit.
// It returns ErrBusy when another cycle is in flight. Collaborator failures are
// returned wrapped in ErrCollaborator and leave the session running.
func (s *Session) RunCycle(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.inFlight.Store(false)
	return s.cycle(ctx)
}

func (s *Session) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCollaborator, r)
		}
	}()

	s.mu.Lock()
	state, source := s.state, s.source
	s.mu.Unlock()
	if state != StateRunning {
		return ErrNotRunning
	}
	if source == nil || s.detector == nil {
		return errors.New("session has no frame source")
	}

	frame, err := source.Capture(ctx)
	if err != nil {
		return fmt.Errorf("%w: capturing frame: %w", ErrCollaborator, err)
	}
	detections, err := s.detector.DetectAndEmbed(ctx, frame)
	if err != nil {
		return fmt.Errorf("%w: detecting faces: %w", ErrCollaborator, err)
	}

	detectedAt := frame.CapturedAt
	if detectedAt.IsZero() {
		detectedAt = s.now()
	}

	results := make([]Result, 0, len(detections))
	for i, d := range detections {
		if d.Confidence < s.confidence {
			continue
		}
		vec, err := embedding.New(d.Embedding)
		if err != nil {
			s.logger.Warn("discarding detection", "index", i, "error", err)
			continue
		}
		r, err := s.Ingest(vec, detectedAt)
		if errors.Is(err, ErrNotRunning) {
			// Stopped while the collaborators were working.
			return err
		}
		if err != nil {
			s.logger.Warn("discarding detection", "index", i, "error", err)
			continue
		}
		r.BBox = d.BBox
		results = append(results, r)
	}

	s.resultsMu.Lock()
	s.lastResults = results
	s.lastCycle = detectedAt
	s.resultsMu.Unlock()
	return nil
}

// Ingest resolves one embedding against the current person snapshot. A match
// that passes the cooldown gate is handed to the consumer without waiting for
// it, unless the session is stopped first. Unknown faces never touch the gate.
func (s *Session) Ingest(vec embedding.Vector, detectedAt time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return Result{}, ErrNotRunning
	}

	id, err := matcher.Identify(s.matcher, s.persons.List(), vec)
	if err != nil {
		return Result{}, err
	}
	res := Result{Similarity: id.Similarity}
	if id.Person == nil {
		return res, nil
	}
	rec := id.Person
	res.PersonID = rec.ID
	res.Name = rec.Name
	res.Known = true

	if !s.gate.Allow(rec.ID, detectedAt) {
		return res, nil
	}
	res.Announced = true

	ev := Event{
		PersonID:   rec.ID,
		Name:       rec.Name,
		Relation:   rec.Relation,
		Notes:      rec.Notes,
		Similarity: id.Similarity,
		DetectedAt: detectedAt,
	}
	s.logger.Info("person recognized", "person_id", ev.PersonID, "name", ev.Name, "similarity", ev.Similarity)
	go s.deliver(ev)
	return res, nil
}

func (s *Session) deliver(ev Event) {
	s.delivering.RLock()
	defer s.delivering.RUnlock()
	if s.State() != StateRunning {
		s.logger.Debug("dropping recognition event after stop", "person_id", ev.PersonID)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recognition consumer panicked", "person_id", ev.PersonID, "panic", r)
		}
	}()
	s.consumer.OnRecognition(ev)
}

// LastResults returns the per-face results of the most recent completed cycle
// and the time its frame was captured.
func (s *Session) LastResults() ([]Result, time.Time) {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	return slices.Clone(s.lastResults), s.lastCycle
}
