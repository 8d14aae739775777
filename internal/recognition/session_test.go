package recognition

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/familiar-faces/internal/cooldown"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/matcher"
	"github.com/kozaktomas/familiar-faces/internal/person"
)

var (
	knownE = embedding.Vector{1, 0}
	// similarity 0.75 to knownE
	queryQ = embedding.Vector{0.75, float32(math.Sqrt(1 - 0.75*0.75))}
	// similarity 0.4 to knownE
	strangerQ = embedding.Vector{0.4, float32(math.Sqrt(1 - 0.4*0.4))}
)

func newPersons(t *testing.T) *person.Store {
	t.Helper()
	s := person.NewStore(nil, person.Options{NewID: func() string { return "p1" }})
	if _, err := s.Enroll("Jane", "daughter", "lives in Brno", []embedding.Vector{knownE}); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return s
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 16)}
}

func (r *recorder) OnRecognition(ev Event) { r.events <- ev }

func (r *recorder) expect(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("expected a recognition event")
		return Event{}
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected recognition event: %+v", ev)
	case <-time.After(wait):
	}
}

type fakeSource struct {
	err error
	at  time.Time
}

func (f *fakeSource) Capture(context.Context) (Frame, error) {
	if f.err != nil {
		return Frame{}, f.err
	}
	return Frame{Data: []byte("jpeg"), Source: "fake", CapturedAt: f.at}, nil
}

type fakeDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
}

func (f *fakeDetector) DetectAndEmbed(context.Context, Frame) ([]Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.detections, f.err
}

func (f *fakeDetector) set(d []Detection, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections, f.err = d, err
}

func TestSession_EndToEndCooldown(t *testing.T) {
	rec := newRecorder()
	s := NewSession(newPersons(t), Options{
		Matcher:  matcher.NewExact(0.6),
		Gate:     cooldown.NewGate(30 * time.Second),
		Consumer: rec,
	})
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	res, err := s.Ingest(queryQ, t0)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Known || res.PersonID != "p1" || math.Abs(res.Similarity-0.75) > 1e-6 {
		t.Errorf("unexpected result %+v", res)
	}
	ev := rec.expect(t)
	if ev.PersonID != "p1" || ev.Name != "Jane" || ev.Relation != "daughter" || !ev.DetectedAt.Equal(t0) {
		t.Errorf("unexpected event %+v", ev)
	}

	res, err = s.Ingest(queryQ, t0.Add(9*time.Second))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Known || res.Announced {
		t.Errorf("expected known but gated result, got %+v", res)
	}
	rec.expectNone(t, 50*time.Millisecond)

	res, err = s.Ingest(queryQ, t0.Add(31*time.Second))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Announced {
		t.Errorf("expected announcement after cooldown, got %+v", res)
	}
	rec.expect(t)
}

func TestSession_UnknownFaceDoesNotTouchGate(t *testing.T) {
	rec := newRecorder()
	gate := cooldown.NewGate(30 * time.Second)
	s := NewSession(newPersons(t), Options{Matcher: matcher.NewExact(0.6), Gate: gate, Consumer: rec})
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	res, err := s.Ingest(strangerQ, time.Now())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Known || res.Announced {
		t.Errorf("expected unknown face, got %+v", res)
	}
	if math.Abs(res.Similarity-0.4) > 1e-6 {
		t.Errorf("expected best similarity 0.4, got %f", res.Similarity)
	}
	if gate.Len() != 0 {
		t.Errorf("expected untouched gate, got %d entries", gate.Len())
	}
	rec.expectNone(t, 50*time.Millisecond)
}

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession(newPersons(t), Options{})

	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
	if _, err := s.Ingest(queryQ, time.Now()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning before start, got %v", err)
	}
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("expected running, got %s", s.State())
	}
	if err := s.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	s.Stop()
	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if err := s.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected stopped session to refuse restart, got %v", err)
	}
	if _, err := s.Ingest(queryQ, time.Now()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestSession_StartRequiresDetectorForPolling(t *testing.T) {
	s := NewSession(newPersons(t), Options{})
	if err := s.Start(context.Background(), &fakeSource{}); err == nil {
		t.Error("expected error without detector")
	}
	if s.State() != StateIdle {
		t.Errorf("failed start must leave session idle, got %s", s.State())
	}
}

func TestSession_IngestRejectsWrongDimension(t *testing.T) {
	s := NewSession(newPersons(t), Options{})
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	_, err := s.Ingest(embedding.Vector{1, 0, 0}, time.Now())
	if !errors.Is(err, person.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSession_RunCycleFiltersLowConfidence(t *testing.T) {
	rec := newRecorder()
	det := &fakeDetector{detections: []Detection{
		{BBox: BBox{0, 0, 100, 100}, Embedding: queryQ, Confidence: 0.9},
		{BBox: BBox{200, 0, 300, 100}, Embedding: knownE, Confidence: 0.3},
	}}
	s := NewSession(newPersons(t), Options{
		Detector:            det,
		Consumer:            rec,
		ConfidenceThreshold: 0.5,
		PollInterval:        time.Hour,
	})
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Start(context.Background(), &fakeSource{at: at}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	ev := rec.expect(t)
	if math.Abs(ev.Similarity-0.75) > 1e-6 {
		t.Errorf("expected the confident detection to be matched, got similarity %f", ev.Similarity)
	}

	results, cycleAt := s.LastResults()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].BBox != (BBox{0, 0, 100, 100}) || !results[0].Announced {
		t.Errorf("unexpected result %+v", results[0])
	}
	if !cycleAt.Equal(at) {
		t.Errorf("expected cycle time %v, got %v", at, cycleAt)
	}
}

func TestSession_CollaboratorFailureSkipsCycle(t *testing.T) {
	rec := newRecorder()
	det := &fakeDetector{err: errors.New("model crashed")}
	src := &fakeSource{}
	s := NewSession(newPersons(t), Options{Detector: det, Consumer: rec, PollInterval: time.Hour})
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.RunCycle(context.Background()); !errors.Is(err, ErrCollaborator) {
		t.Errorf("expected ErrCollaborator, got %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("session must keep running, got %s", s.State())
	}

	src.err = ErrFrameUnavailable
	if err := s.RunCycle(context.Background()); !errors.Is(err, ErrFrameUnavailable) {
		t.Errorf("expected ErrFrameUnavailable, got %v", err)
	}

	src.err = nil
	det.set([]Detection{{Embedding: queryQ, Confidence: 1}}, nil)
	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	rec.expect(t)
}

type panickingDetector struct{}

func (panickingDetector) DetectAndEmbed(context.Context, Frame) ([]Detection, error) {
	panic("boom")
}

func TestSession_RecoversFromPanic(t *testing.T) {
	s := NewSession(newPersons(t), Options{Detector: panickingDetector{}, PollInterval: time.Hour})
	if err := s.Start(context.Background(), &fakeSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.RunCycle(context.Background()); !errors.Is(err, ErrCollaborator) {
		t.Errorf("expected ErrCollaborator, got %v", err)
	}
}

func TestSession_PollingEmits(t *testing.T) {
	rec := newRecorder()
	det := &fakeDetector{detections: []Detection{{Embedding: queryQ, Confidence: 1}}}
	s := NewSession(newPersons(t), Options{Detector: det, Consumer: rec, PollInterval: 5 * time.Millisecond})
	if err := s.Start(context.Background(), &fakeSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	ev := rec.expect(t)
	if ev.PersonID != "p1" {
		t.Errorf("expected p1, got %s", ev.PersonID)
	}
}

// blockingDetector holds every call until released.
type blockingDetector struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newBlockingDetector() *blockingDetector {
	return &blockingDetector{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingDetector) DetectAndEmbed(context.Context, Frame) ([]Detection, error) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return []Detection{{Embedding: queryQ, Confidence: 1}}, nil
}

func TestSession_SkipsTickWhileCycleInFlight(t *testing.T) {
	det := newBlockingDetector()
	s := NewSession(newPersons(t), Options{Detector: det, PollInterval: 2 * time.Millisecond})
	if err := s.Start(context.Background(), &fakeSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	<-det.entered
	time.Sleep(50 * time.Millisecond)
	if n := det.calls.Load(); n != 1 {
		t.Errorf("expected a single in-flight cycle, got %d", n)
	}
	if err := s.RunCycle(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(det.release)
	s.Stop()
}

func TestSession_NoEventsAfterStop(t *testing.T) {
	rec := newRecorder()
	det := newBlockingDetector()
	s := NewSession(newPersons(t), Options{Detector: det, Consumer: rec, PollInterval: 2 * time.Millisecond})
	if err := s.Start(context.Background(), &fakeSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-det.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateStopped {
		if time.Now().After(deadline) {
			t.Fatal("session did not reach stopped state")
		}
		time.Sleep(time.Millisecond)
	}

	// The in-flight cycle completes its detection after Stop began.
	close(det.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	rec.expectNone(t, 50*time.Millisecond)
}

func TestSession_IngestThenStopDropsPendingEvent(t *testing.T) {
	var late atomic.Int32
	for range 200 {
		stopped := new(atomic.Bool)
		consumer := ConsumerFunc(func(Event) {
			if stopped.Load() {
				late.Add(1)
			}
		})
		s := NewSession(newPersons(t), Options{Consumer: consumer})
		if err := s.Start(context.Background(), nil); err != nil {
			t.Fatalf("start: %v", err)
		}
		res, err := s.Ingest(queryQ, time.Now())
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		if !res.Announced {
			t.Fatalf("expected announced result, got %+v", res)
		}
		s.Stop()
		stopped.Store(true)
	}
	// Give stray delivery goroutines a chance to run before counting.
	time.Sleep(50 * time.Millisecond)
	if n := late.Load(); n != 0 {
		t.Errorf("consumer invoked %d times after Stop returned", n)
	}
}

func TestSession_StopWaitsForRunningDelivery(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	consumer := ConsumerFunc(func(Event) {
		close(entered)
		<-release
		finished.Store(true)
	})

	s := NewSession(newPersons(t), Options{Consumer: consumer})
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Ingest(queryQ, time.Now()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stop returned while the consumer was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	if !finished.Load() {
		t.Error("expected consumer call to complete before Stop returned")
	}
}
