// Package enrichment decides when a room's transcript is sent for formatting
// and summarization.
package enrichment

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/metrics"
)

// Kind is an enrichment task
type Kind string

const (
	KindFormat    Kind = "format"
	KindSummarize Kind = "summarize"
)

// Stage is the progress of an enrichment job
type Stage string

const (
	StagePending     Stage = "pending"
	StageFormatting  Stage = "formatting"
	StageSummarizing Stage = "summarizing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Enricher is the external text enrichment service
type Enricher interface {
	Format(ctx context.Context, text string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Snapshot is the text a job runs against, tagged with the room's buffer
// generation at the time it was taken.
type Snapshot struct {
	Text       string
	Generation uint64
}

// Target owns the buffers the scheduler reads and writes. The scheduler
// never holds its own lock while calling a Target.
type Target interface {
	// EnrichmentSnapshot returns the input for kind, or false if the room
	// no longer accepts enrichment.
	EnrichmentSnapshot(roomID string, kind Kind) (Snapshot, bool)
	ApplyEnrichment(roomID string, kind Kind, generation uint64, result string)
	EnrichmentFailed(roomID string, kind Kind, generation uint64, err error)
}

// Policy is the debounce and threshold for one kind
type Policy struct {
	QuietPeriod time.Duration
	MinLength   int
}

// Config holds the policy per kind
type Config struct {
	Format    Policy
	Summarize Policy
}

// DefaultConfig waits 5s and 50 characters before formatting, and 10s and
// 100 characters before summarizing.
func DefaultConfig() Config {
	return Config{
		Format:    Policy{QuietPeriod: 5 * time.Second, MinLength: 50},
		Summarize: Policy{QuietPeriod: 10 * time.Second, MinLength: 100},
	}
}

func (c Config) policy(kind Kind) Policy {
	if kind == KindSummarize {
		return c.Summarize
	}
	return c.Format
}

// Job is one enrichment call for a room
type Job struct {
	RoomID       string
	Kind         Kind
	SnapshotText string
	Generation   uint64
	Stage        Stage
	StartedAt    time.Time
}

// Stats counts jobs for one room
type Stats struct {
	Dispatched int
	Completed  int
	Failed     int
}

type roomState struct {
	timers   map[Kind]*time.Timer
	seq      map[Kind]uint64
	inFlight *Job
	deferred map[Kind]bool
	stats    Stats
}

// Scheduler debounces enrichment per room and keeps at most one call in
// flight per room across both kinds.
type Scheduler struct {
	enricher Enricher
	target   Target
	cfg      Config
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	rooms   map[string]*roomState
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler that writes results into target
func NewScheduler(enricher Enricher, target Target, cfg Config, logger logrus.FieldLogger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		enricher: enricher,
		target:   target,
		cfg:      cfg,
		logger:   logger.WithField("component", "enrichment"),
		metrics:  m,
		rooms:    make(map[string]*roomState),
	}
}

// Touch restarts the quiet period for kind in roomID.
func (s *Scheduler) Touch(roomID string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	rs := s.roomLocked(roomID)
	if t := rs.timers[kind]; t != nil {
		t.Stop()
	}
	rs.seq[kind]++
	seq := rs.seq[kind]
	rs.timers[kind] = time.AfterFunc(s.cfg.policy(kind).QuietPeriod, func() {
		s.fire(roomID, kind, seq)
	})
}

// Cancel drops pending timers and deferred work for roomID. A call already
// in flight still completes; its result is judged by the target.
func (s *Scheduler) Cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok {
		return
	}
	for kind, t := range rs.timers {
		t.Stop()
		delete(rs.timers, kind)
		rs.seq[kind]++
	}
	for kind := range rs.deferred {
		delete(rs.deferred, kind)
	}
}

// Stop cancels every timer. In-flight calls finish in the background.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, rs := range s.rooms {
		for kind, t := range rs.timers {
			t.Stop()
			delete(rs.timers, kind)
		}
		rs.deferred = make(map[Kind]bool)
	}
	s.mu.Unlock()
}

// Wait blocks until in-flight calls have returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// InFlight returns the job currently running for roomID
func (s *Scheduler) InFlight(roomID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.rooms[roomID]
	if !ok || rs.inFlight == nil {
		return Job{}, false
	}
	return *rs.inFlight, true
}

// Stats returns job counters for roomID
func (s *Scheduler) Stats(roomID string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rs, ok := s.rooms[roomID]; ok {
		return rs.stats
	}
	return Stats{}
}

func (s *Scheduler) roomLocked(roomID string) *roomState {
	rs, ok := s.rooms[roomID]
	if !ok {
		rs = &roomState{
			timers:   make(map[Kind]*time.Timer),
			seq:      make(map[Kind]uint64),
			deferred: make(map[Kind]bool),
		}
		s.rooms[roomID] = rs
	}
	return rs
}

func (s *Scheduler) fire(roomID string, kind Kind, seq uint64) {
	s.mu.Lock()
	rs, ok := s.rooms[roomID]
	if !ok || s.stopped || rs.seq[kind] != seq {
		s.mu.Unlock()
		return
	}
	delete(rs.timers, kind)
	s.mu.Unlock()

	s.dispatch(roomID, kind)
}

// dispatch claims the room's slot before reading the snapshot so a second
// trigger can never start a concurrent call.
func (s *Scheduler) dispatch(roomID string, kind Kind) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	rs := s.roomLocked(roomID)
	if rs.inFlight != nil {
		rs.deferred[kind] = true
		s.mu.Unlock()
		return
	}
	job := &Job{RoomID: roomID, Kind: kind, Stage: StagePending, StartedAt: time.Now()}
	rs.inFlight = job
	s.mu.Unlock()

	snap, ok := s.target.EnrichmentSnapshot(roomID, kind)
	if !ok || utf8.RuneCountInString(snap.Text) <= s.cfg.policy(kind).MinLength {
		s.release(roomID, job)
		return
	}

	s.mu.Lock()
	job.SnapshotText = snap.Text
	job.Generation = snap.Generation
	if kind == KindFormat {
		job.Stage = StageFormatting
	} else {
		job.Stage = StageSummarizing
	}
	rs.stats.Dispatched++
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(job)
}

func (s *Scheduler) run(job *Job) {
	defer s.wg.Done()

	log := s.logger.WithFields(logrus.Fields{"room_id": job.RoomID, "kind": job.Kind})
	started := time.Now()

	// No timeout: a hung call holds the room's slot until it returns.
	var (
		result string
		err    error
	)
	if job.Kind == KindFormat {
		result, err = s.enricher.Format(context.Background(), job.SnapshotText)
	} else {
		result, err = s.enricher.Summarize(context.Background(), job.SnapshotText)
	}
	s.metrics.RecordEnrichment(string(job.Kind), time.Since(started).Seconds(), err)

	if err != nil {
		log.WithError(err).Warn("enrichment failed")
		s.target.EnrichmentFailed(job.RoomID, job.Kind, job.Generation, err)
	} else {
		log.Debug("enrichment completed")
		s.target.ApplyEnrichment(job.RoomID, job.Kind, job.Generation, result)
	}

	s.mu.Lock()
	if err != nil {
		job.Stage = StageFailed
	} else {
		job.Stage = StageDone
	}
	if rs, ok := s.rooms[job.RoomID]; ok {
		if err != nil {
			rs.stats.Failed++
		}
		rs.stats.Completed++
	}
	s.mu.Unlock()

	s.release(job.RoomID, job)
}

// release frees the room's slot and starts deferred work against the
// latest buffer, format before summarize.
func (s *Scheduler) release(roomID string, job *Job) {
	s.mu.Lock()
	rs, ok := s.rooms[roomID]
	if !ok || rs.inFlight != job {
		s.mu.Unlock()
		return
	}
	rs.inFlight = nil

	var next Kind
	switch {
	case rs.deferred[KindFormat]:
		next = KindFormat
	case rs.deferred[KindSummarize]:
		next = KindSummarize
	}
	if next != "" {
		delete(rs.deferred, next)
	}
	stopped := s.stopped
	s.mu.Unlock()

	if next != "" && !stopped {
		s.dispatch(roomID, next)
	}
}
