// Package conference runs one live dialogue session: the main room, its
// breakout rooms, their transcripts and the enrichment and compilation
// built on top of them.
package conference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/enrichment"
	"github.com/gendialogue/dialogue-backend/internal/media"
	"github.com/gendialogue/dialogue-backend/internal/metrics"
	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/speech"
)

// RoomConnector opens and controls room connections. *media.Connector
// implements it.
type RoomConnector interface {
	Connect(ctx context.Context, roomID string) (*media.Handle, error)
	Disconnect(h *media.Handle) error
	SetAudioEnabled(h *media.Handle, enabled bool) error
	SetVideoEnabled(h *media.Handle, enabled bool) error
}

// Capture is the speech capture feeding the active room.
// *speech.CaptureSession implements it.
type Capture interface {
	Start(ctx context.Context) error
	Stop() error
	Reset()
}

// Recorder persists the session's lifecycle on its dialogue
type Recorder interface {
	SetStatus(ctx context.Context, status models.DialogueStatus) error
	SetSummary(ctx context.Context, summary string) error
}

// Options wires an orchestrator to its collaborators
type Options struct {
	DialogueID string
	Connector  RoomConnector
	Enricher   enrichment.Enricher
	// NewCapture builds the capture session that delivers into the
	// orchestrator. It may be nil when no capture is attached.
	NewCapture func(onDelta func(string)) Capture
	Recorder   Recorder
	Enrichment enrichment.Config
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger
	// Now is the clock used for breakout ids; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator owns a session's rooms. It is the only writer of room state;
// connection events, capture deltas and enrichment results all arrive as
// calls that take its lock. It never holds that lock while calling a
// collaborator.
type Orchestrator struct {
	dialogueID string
	connector  RoomConnector
	capture    Capture
	scheduler  *enrichment.Scheduler
	compiler   *Compiler
	recorder   Recorder
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger
	now        func() time.Time

	mu           sync.Mutex
	mainRoomID   string
	activeRoomID string
	rooms        map[string]*roomState
	order        []string
	reserved     map[string]bool
	listening    bool
	initializing bool
	initialized  bool
	ended        bool
	lastError    *ErrorInfo
	version      uint64

	subMu       sync.Mutex
	subscribers map[int]func(View)
	nextSub     int
}

// New creates an orchestrator that has not joined any room yet
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Enrichment == (enrichment.Config{}) {
		opts.Enrichment = enrichment.DefaultConfig()
	}

	o := &Orchestrator{
		dialogueID:  opts.DialogueID,
		connector:   opts.Connector,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		logger:      logger.WithFields(logrus.Fields{"component": "conference", "dialogue_id": opts.DialogueID}),
		now:         now,
		rooms:       make(map[string]*roomState),
		reserved:    make(map[string]bool),
		subscribers: make(map[int]func(View)),
	}
	o.scheduler = enrichment.NewScheduler(opts.Enricher, o, opts.Enrichment, logger, opts.Metrics)
	o.compiler = NewCompiler(o, opts.Enricher, logger)
	if opts.NewCapture != nil {
		o.capture = opts.NewCapture(o.AppendTranscriptDelta)
	}
	return o
}

// Compiler returns the session's compiler
func (o *Orchestrator) Compiler() *Compiler {
	return o.compiler
}

// Scheduler returns the session's enrichment scheduler
func (o *Orchestrator) Scheduler() *enrichment.Scheduler {
	return o.scheduler
}

// Initialize connects the main room. Connection failures set the session
// error and are returned; the session stays usable for another attempt.
func (o *Orchestrator) Initialize(ctx context.Context, mainRoomID string) error {
	if strings.TrimSpace(mainRoomID) == "" {
		return fmt.Errorf("main room id is required")
	}

	o.mu.Lock()
	switch {
	case o.ended:
		o.mu.Unlock()
		return ErrSessionEnded
	case o.initialized:
		o.mu.Unlock()
		return nil
	case o.initializing:
		o.mu.Unlock()
		return fmt.Errorf("main room %s is already connecting", o.mainRoomID)
	}
	o.initializing = true
	o.mainRoomID = mainRoomID
	o.mu.Unlock()

	log := o.logger.WithField("room_id", mainRoomID)
	h, err := o.connector.Connect(ctx, mainRoomID)
	o.metrics.RecordRoomConnect(string(RoomMain), connectAttempts(h, err), err)

	o.mu.Lock()
	o.initializing = false
	if err != nil {
		o.setErrorLocked(err, MainRoomKey)
		o.mu.Unlock()
		log.WithError(err).Warn("main room connect failed")
		o.notify()
		return err
	}
	if o.ended {
		o.mu.Unlock()
		o.disconnect(h)
		return ErrSessionEnded
	}
	o.rooms[MainRoomKey] = newRoomState(MainRoomKey, mainRoomID, RoomMain, h, o.now())
	o.order = []string{MainRoomKey}
	o.activeRoomID = MainRoomKey
	o.initialized = true
	o.mu.Unlock()

	h.Attach(o.dispatchFor(MainRoomKey, h))
	o.metrics.SessionStarted()
	o.record(func(ctx context.Context) error {
		return o.recorder.SetStatus(ctx, models.DialogueStatusInProgress)
	})

	log.Info("conference initialized")
	o.notify()
	return nil
}

// SetActiveRoom switches which room receives speech. Connections of other
// rooms are untouched.
func (o *Orchestrator) SetActiveRoom(roomID string) error {
	o.mu.Lock()
	if _, ok := o.rooms[roomID]; !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	o.activeRoomID = roomID
	o.mu.Unlock()

	o.notify()
	return nil
}

// AppendTranscriptDelta appends the novel part of text to the active room's
// raw transcript. Text already contained in the buffer, and leading words
// repeating its tail, are dropped.
func (o *Orchestrator) AppendTranscriptDelta(text string) {
	delta := strings.TrimSpace(text)
	if delta == "" {
		return
	}

	o.mu.Lock()
	room, ok := o.rooms[o.activeRoomID]
	if !ok || o.ended {
		o.mu.Unlock()
		return
	}
	if strings.Contains(room.raw, delta) {
		o.mu.Unlock()
		return
	}
	novel := speech.TrimOverlap(room.raw, delta)
	if novel == "" {
		o.mu.Unlock()
		return
	}
	if room.raw == "" {
		room.raw = novel
	} else {
		room.raw += " " + novel
	}
	roomID := room.id
	o.mu.Unlock()

	o.metrics.RecordDelta()
	o.scheduler.Touch(roomID, enrichment.KindFormat)
	o.notify()
}

// CreateBreakout connects a new breakout room and makes it active. On
// failure the room is not added and the session error is set.
func (o *Orchestrator) CreateBreakout(ctx context.Context) (string, error) {
	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return "", err
	}
	id := o.breakoutIDLocked()
	o.reserved[id] = true
	o.mu.Unlock()

	log := o.logger.WithField("room_id", id)
	h, err := o.connector.Connect(ctx, id)
	o.metrics.RecordRoomConnect(string(RoomBreakout), connectAttempts(h, err), err)

	o.mu.Lock()
	delete(o.reserved, id)
	if err != nil {
		o.setErrorLocked(err, id)
		o.mu.Unlock()
		log.WithError(err).Warn("breakout connect failed")
		o.notify()
		return "", err
	}
	if o.ended {
		o.mu.Unlock()
		o.disconnect(h)
		return "", ErrSessionEnded
	}
	o.rooms[id] = newRoomState(id, id, RoomBreakout, h, o.now())
	o.order = append(o.order, id)
	o.activeRoomID = id
	o.mu.Unlock()

	h.Attach(o.dispatchFor(id, h))
	log.Info("breakout room created")
	o.notify()
	return id, nil
}

// breakoutIDLocked derives an id from the main room and the clock, suffixed
// when the millisecond is already taken.
func (o *Orchestrator) breakoutIDLocked() string {
	base := fmt.Sprintf("%s-breakout-%d", o.mainRoomID, o.now().UnixMilli())
	id := base
	for n := 2; o.rooms[id] != nil || o.reserved[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

// ResetActiveRoomTranscript clears the active room's raw, formatted and
// summary text together. Other rooms are not affected.
func (o *Orchestrator) ResetActiveRoomTranscript() error {
	if o.capture != nil {
		o.capture.Reset()
	}

	o.mu.Lock()
	room, ok := o.rooms[o.activeRoomID]
	if !ok {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	room.raw = ""
	room.formatted = ""
	room.summary = ""
	room.generation++
	roomID := room.id
	o.mu.Unlock()

	o.scheduler.Cancel(roomID)
	o.notify()
	return nil
}

// EditFormattedTranscript replaces a room's formatted transcript with user
// text. An empty roomID selects the active room.
func (o *Orchestrator) EditFormattedTranscript(roomID, text string) error {
	o.mu.Lock()
	if roomID == "" {
		roomID = o.activeRoomID
	}
	room, ok := o.rooms[roomID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	room.formatted = text
	o.mu.Unlock()

	o.scheduler.Touch(roomID, enrichment.KindSummarize)
	o.notify()
	return nil
}

// RecordSatisfactionScore appends score to a room's ratings. Scores outside
// 1 to 5 are rejected without changing anything.
func (o *Orchestrator) RecordSatisfactionScore(roomID string, score int) error {
	if score < MinScore || score > MaxScore {
		return &InvalidScoreError{Score: score}
	}

	o.mu.Lock()
	if roomID == "" {
		roomID = o.activeRoomID
	}
	room, ok := o.rooms[roomID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	room.scores = append(room.scores, score)
	o.mu.Unlock()

	o.metrics.RecordSatisfaction(score)
	o.notify()
	return nil
}

// AverageSatisfaction returns the mean score of one room
func (o *Orchestrator) AverageSatisfaction(roomID string) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, ok := o.rooms[roomID]
	if !ok || len(room.scores) == 0 {
		return 0, false
	}
	return average(room.scores), true
}

// OverallSatisfaction returns the mean of every score in every room
func (o *Orchestrator) OverallSatisfaction() (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	all := o.allScoresLocked()
	if len(all) == 0 {
		return 0, false
	}
	return average(all), true
}

func (o *Orchestrator) allScoresLocked() []int {
	var all []int
	for _, id := range o.order {
		all = append(all, o.rooms[id].scores...)
	}
	return all
}

// StartListening resets the capture cursor and starts capture
func (o *Orchestrator) StartListening(ctx context.Context) error {
	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.capture == nil {
		o.mu.Unlock()
		return errors.New("no speech capture attached")
	}
	if o.listening {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.capture.Reset()
	if err := o.capture.Start(ctx); err != nil {
		o.mu.Lock()
		o.setErrorLocked(err, o.activeRoomID)
		o.mu.Unlock()
		o.notify()
		return err
	}

	o.mu.Lock()
	o.listening = true
	o.mu.Unlock()
	o.notify()
	return nil
}

// StopListening stops capture. The capture device is released even when
// stopping reports an error.
func (o *Orchestrator) StopListening() error {
	if o.capture == nil {
		return nil
	}
	err := o.capture.Stop()

	o.mu.Lock()
	o.listening = false
	if err != nil {
		o.setErrorLocked(err, o.activeRoomID)
	}
	o.mu.Unlock()

	o.notify()
	return err
}

// SetAudioEnabled toggles the active room's outbound audio
func (o *Orchestrator) SetAudioEnabled(enabled bool) error {
	return o.setTrack(o.connector.SetAudioEnabled, enabled)
}

// SetVideoEnabled toggles the active room's outbound video
func (o *Orchestrator) SetVideoEnabled(enabled bool) error {
	return o.setTrack(o.connector.SetVideoEnabled, enabled)
}

func (o *Orchestrator) setTrack(toggle func(*media.Handle, bool) error, enabled bool) error {
	o.mu.Lock()
	room, ok := o.rooms[o.activeRoomID]
	if !ok {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	h, roomID := room.handle, room.id
	o.mu.Unlock()

	if err := toggle(h, enabled); err != nil {
		o.mu.Lock()
		o.setErrorLocked(err, roomID)
		o.mu.Unlock()
		o.notify()
		return err
	}
	o.notify()
	return nil
}

// DismissError clears the displayed error only
func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	o.lastError = nil
	o.mu.Unlock()
	o.notify()
}

// CompileFinal compiles the main room and every breakout. A successful
// result is stored as the dialogue's summary.
func (o *Orchestrator) CompileFinal(ctx context.Context) CompilationResult {
	res := o.runCompile(ctx, ScopeFinal)
	if res.Success {
		summary := res.Summary
		o.record(func(ctx context.Context) error {
			return o.recorder.SetSummary(ctx, summary)
		})
	}
	return res
}

// CompileBreakoutRooms compiles the breakout rooms only
func (o *Orchestrator) CompileBreakoutRooms(ctx context.Context) CompilationResult {
	return o.runCompile(ctx, ScopeBreakouts)
}

func (o *Orchestrator) runCompile(ctx context.Context, scope Scope) CompilationResult {
	res, err := o.compiler.compile(ctx, scope)
	o.metrics.RecordCompilation(string(scope), res.Success)
	if err != nil {
		o.mu.Lock()
		o.setErrorLocked(err, "")
		o.mu.Unlock()
		o.notify()
	}
	return res
}

// Transcripts returns formatted transcripts in compile order
func (o *Orchestrator) Transcripts(scope Scope) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.order))
	for _, id := range o.order {
		room := o.rooms[id]
		if scope == ScopeBreakouts && room.kind == RoomMain {
			continue
		}
		out = append(out, room.formatted)
	}
	return out
}

// EndSession stops capture and enrichment and disconnects every room.
// Results of enrichment calls still in flight are discarded.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return nil
	}
	o.ended = true
	o.listening = false
	wasInitialized := o.initialized
	handles := make([]*media.Handle, 0, len(o.order))
	for _, id := range o.order {
		room := o.rooms[id]
		if room.handle != nil {
			handles = append(handles, room.handle)
			room.handle = nil
		}
	}
	o.mu.Unlock()

	var errs []error
	if o.capture != nil {
		if err := o.capture.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	o.scheduler.Stop()
	for _, h := range handles {
		if err := o.disconnect(h); err != nil {
			errs = append(errs, err)
		}
	}

	if wasInitialized {
		o.metrics.SessionEnded()
		o.record(func(ctx context.Context) error {
			return o.recorder.SetStatus(ctx, models.DialogueStatusCompleted)
		})
	}

	o.logger.WithField("rooms", len(handles)).Info("conference ended")
	o.notify()
	return errors.Join(errs...)
}

// Snapshot returns a copy of the session
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// Subscribe registers fn for every change. Calls may come from any
// goroutine; compare View.Version to drop out-of-order copies. The returned
// function removes the subscription.
func (o *Orchestrator) Subscribe(fn func(View)) func() {
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subscribers[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subscribers, id)
		o.subMu.Unlock()
	}
}

// EnrichmentSnapshot implements enrichment.Target
func (o *Orchestrator) EnrichmentSnapshot(roomID string, kind enrichment.Kind) (enrichment.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, ok := o.rooms[roomID]
	if !ok || o.ended {
		return enrichment.Snapshot{}, false
	}
	text := room.raw
	if kind == enrichment.KindSummarize {
		text = room.formatted
	}
	return enrichment.Snapshot{Text: text, Generation: room.generation}, true
}

// ApplyEnrichment implements enrichment.Target. Results for a reset room
// or an ended session are dropped. A new formatted transcript schedules
// summarization.
func (o *Orchestrator) ApplyEnrichment(roomID string, kind enrichment.Kind, generation uint64, result string) {
	o.mu.Lock()
	room, ok := o.rooms[roomID]
	if !ok || o.ended || room.generation != generation {
		o.mu.Unlock()
		return
	}
	if kind == enrichment.KindFormat {
		room.formatted = result
	} else {
		room.summary = result
	}
	o.mu.Unlock()

	if kind == enrichment.KindFormat {
		o.scheduler.Touch(roomID, enrichment.KindSummarize)
	}
	o.notify()
}

// EnrichmentFailed implements enrichment.Target. Prior text is kept.
func (o *Orchestrator) EnrichmentFailed(roomID string, kind enrichment.Kind, generation uint64, err error) {
	o.mu.Lock()
	room, ok := o.rooms[roomID]
	if !ok || o.ended || room.generation != generation {
		o.mu.Unlock()
		return
	}
	o.setErrorLocked(&EnrichmentFailure{RoomID: roomID, Kind: kind, Err: err}, roomID)
	o.mu.Unlock()

	o.notify()
}

// dispatchFor replays connection events into the room's roster. Events of a
// handle that no longer belongs to the room are ignored.
func (o *Orchestrator) dispatchFor(roomID string, h *media.Handle) media.Dispatch {
	return func(ev media.Event) {
		o.mu.Lock()
		room, ok := o.rooms[roomID]
		if !ok || room.handle != h {
			o.mu.Unlock()
			return
		}
		room.apply(ev)
		o.mu.Unlock()

		o.notify()
	}
}

func (o *Orchestrator) usableLocked() error {
	switch {
	case o.ended:
		return ErrSessionEnded
	case !o.initialized:
		return ErrNotInitialized
	}
	return nil
}

func (o *Orchestrator) setErrorLocked(err error, roomID string) {
	o.lastError = &ErrorInfo{
		Kind:    classify(err),
		Message: err.Error(),
		RoomID:  roomID,
		At:      o.now(),
	}
}

func (o *Orchestrator) disconnect(h *media.Handle) error {
	err := o.connector.Disconnect(h)
	o.metrics.RoomDisconnected()
	if err != nil {
		o.logger.WithError(err).WithField("room_id", h.RoomID()).Warn("disconnect failed")
	}
	return err
}

// record runs a persistence hook. Failures are logged; they never affect
// the live session.
func (o *Orchestrator) record(fn func(ctx context.Context) error) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		o.logger.WithError(err).Warn("failed to record dialogue update")
	}
}

func (o *Orchestrator) viewLocked() View {
	v := View{
		Version:      o.version,
		DialogueID:   o.dialogueID,
		MainRoomID:   o.mainRoomID,
		ActiveRoomID: o.activeRoomID,
		Rooms:        make([]RoomView, 0, len(o.order)),
		Listening:    o.listening,
		Initialized:  o.initialized,
		Ended:        o.ended,
	}
	for _, id := range o.order {
		v.Rooms = append(v.Rooms, o.rooms[id].view())
	}
	if o.lastError != nil {
		e := *o.lastError
		v.LastError = &e
	}
	v.OverallSatisfaction = average(o.allScoresLocked())
	return v
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	o.version++
	v := o.viewLocked()
	o.mu.Unlock()

	o.subMu.Lock()
	subs := make([]func(View), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subs = append(subs, fn)
	}
	o.subMu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

func connectAttempts(h *media.Handle, err error) int {
	if h != nil {
		return h.Attempts()
	}
	var tce *media.TransportConnectError
	if errors.As(err, &tce) {
		return tce.Attempts
	}
	return 0
}
