package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/logging"
)

type fakeTarget struct {
	mu         sync.Mutex
	raw        map[string]string
	formatted  map[string]string
	summary    map[string]string
	generation map[string]uint64
	failures   []error
	closed     bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		raw:        make(map[string]string),
		formatted:  make(map[string]string),
		summary:    make(map[string]string),
		generation: make(map[string]uint64),
	}
}

func (t *fakeTarget) setRaw(room, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.raw[room] = text
}

func (t *fakeTarget) get(m map[string]string, room string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return m[room]
}

func (t *fakeTarget) EnrichmentSnapshot(room string, kind Kind) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Snapshot{}, false
	}
	text := t.raw[room]
	if kind == KindSummarize {
		text = t.formatted[room]
	}
	return Snapshot{Text: text, Generation: t.generation[room]}, true
}

func (t *fakeTarget) ApplyEnrichment(room string, kind Kind, gen uint64, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation[room] {
		return
	}
	if kind == KindFormat {
		t.formatted[room] = result
	} else {
		t.summary[room] = result
	}
}

func (t *fakeTarget) EnrichmentFailed(room string, kind Kind, gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, err)
}

// gatedEnricher blocks every call until release is closed and tracks the
// highest per-room concurrency it observed.
type gatedEnricher struct {
	mu          sync.Mutex
	release     chan struct{}
	active      map[string]int
	maxActive   int
	inputs      []string
	fail        bool
	calls       int
	roomOfInput func(string) string
}

func newGatedEnricher() *gatedEnricher {
	return &gatedEnricher{
		release:     make(chan struct{}),
		active:      make(map[string]int),
		roomOfInput: func(string) string { return "room" },
	}
}

func (e *gatedEnricher) call(text string, out string) (string, error) {
	room := e.roomOfInput(text)

	e.mu.Lock()
	e.calls++
	e.inputs = append(e.inputs, text)
	e.active[room]++
	if e.active[room] > e.maxActive {
		e.maxActive = e.active[room]
	}
	release := e.release
	fail := e.fail
	e.mu.Unlock()

	<-release

	e.mu.Lock()
	e.active[room]--
	e.mu.Unlock()

	if fail {
		return "", errors.New("enricher unavailable")
	}
	return out, nil
}

func (e *gatedEnricher) Format(ctx context.Context, text string) (string, error) {
	return e.call(text, strings.ToUpper(text))
}

func (e *gatedEnricher) Summarize(ctx context.Context, text string) (string, error) {
	return e.call(text, "summary of "+text)
}

func (e *gatedEnricher) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func fastConfig() Config {
	return Config{
		Format:    Policy{QuietPeriod: 10 * time.Millisecond, MinLength: 5},
		Summarize: Policy{QuietPeriod: 10 * time.Millisecond, MinLength: 10},
	}
}

func TestScheduler_FormatThenSummarize(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	close(enricher.release)

	var s *Scheduler
	chain := &chainTarget{fakeTarget: target}
	s = NewScheduler(enricher, chain, fastConfig(), logging.Discard(), nil)
	chain.s = s

	target.setRaw("room", "hello there everyone")
	s.Touch("room", KindFormat)

	assert.Eventually(t, func() bool {
		return target.get(target.summary, "room") == "summary of HELLO THERE EVERYONE"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "HELLO THERE EVERYONE", target.get(target.formatted, "room"))

	s.Wait()
	st := s.Stats("room")
	assert.Equal(t, 2, st.Dispatched)
	assert.Equal(t, 2, st.Completed)
}

// chainTarget touches summarize after a format result, like the orchestrator.
type chainTarget struct {
	*fakeTarget
	s *Scheduler
}

func (c *chainTarget) ApplyEnrichment(room string, kind Kind, gen uint64, result string) {
	c.fakeTarget.ApplyEnrichment(room, kind, gen, result)
	if kind == KindFormat {
		c.s.Touch(room, KindSummarize)
	}
}

func TestScheduler_Debounce(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	close(enricher.release)
	s := NewScheduler(enricher, target, Config{
		Format:    Policy{QuietPeriod: 40 * time.Millisecond, MinLength: 1},
		Summarize: Policy{QuietPeriod: time.Hour, MinLength: 1},
	}, logging.Discard(), nil)

	for i := 0; i < 5; i++ {
		target.setRaw("room", strings.Repeat("word ", i+1))
		s.Touch("room", KindFormat)
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return enricher.callCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, enricher.callCount(), "touches within the quiet period coalesce")
}

func TestScheduler_MinLength(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	close(enricher.release)
	s := NewScheduler(enricher, target, Config{
		Format:    Policy{QuietPeriod: time.Millisecond, MinLength: 5},
		Summarize: Policy{QuietPeriod: time.Millisecond, MinLength: 5},
	}, logging.Discard(), nil)

	target.setRaw("room", "héllo")
	s.Touch("room", KindFormat)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, enricher.callCount(), "length must exceed the threshold")

	target.setRaw("room", "héllo!")
	s.Touch("room", KindFormat)
	assert.Eventually(t, func() bool { return enricher.callCount() == 1 }, time.Second, time.Millisecond)
}

func TestScheduler_AtMostOneInFlight(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	s := NewScheduler(enricher, target, Config{
		Format:    Policy{QuietPeriod: time.Millisecond, MinLength: 1},
		Summarize: Policy{QuietPeriod: time.Millisecond, MinLength: 1},
	}, logging.Discard(), nil)

	target.setRaw("room", "first snapshot")
	target.mu.Lock()
	target.formatted["room"] = "already formatted"
	target.mu.Unlock()

	s.Touch("room", KindFormat)
	assert.Eventually(t, func() bool { return enricher.callCount() == 1 }, time.Second, time.Millisecond)

	job, ok := s.InFlight("room")
	require.True(t, ok)
	assert.Equal(t, StageFormatting, job.Stage)

	// Both kinds fire while the format call is outstanding.
	target.setRaw("room", "second snapshot")
	s.Touch("room", KindFormat)
	s.Touch("room", KindSummarize)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, enricher.callCount())

	st := s.Stats("room")
	assert.LessOrEqual(t, st.Dispatched-st.Completed, 1)

	close(enricher.release)
	assert.Eventually(t, func() bool { return enricher.callCount() == 3 }, time.Second, time.Millisecond)
	s.Wait()

	enricher.mu.Lock()
	inputs := append([]string(nil), enricher.inputs...)
	maxActive := enricher.maxActive
	enricher.mu.Unlock()

	assert.Equal(t, 1, maxActive)
	assert.Equal(t, "first snapshot", inputs[0])
	assert.Equal(t, "second snapshot", inputs[1], "deferred format re-reads the latest buffer")
	assert.Equal(t, "SECOND SNAPSHOT", inputs[2], "summarize runs after the deferred format")

	_, ok = s.InFlight("room")
	assert.False(t, ok)
}

func TestScheduler_RoomsAreIndependent(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	enricher.roomOfInput = func(text string) string { return strings.Fields(text)[0] }
	s := NewScheduler(enricher, target, Config{
		Format:    Policy{QuietPeriod: time.Millisecond, MinLength: 1},
		Summarize: Policy{QuietPeriod: time.Hour, MinLength: 1},
	}, logging.Discard(), nil)

	target.setRaw("a", "a text")
	target.setRaw("b", "b text")
	s.Touch("a", KindFormat)
	s.Touch("b", KindFormat)

	assert.Eventually(t, func() bool { return enricher.callCount() == 2 }, time.Second, time.Millisecond)
	close(enricher.release)
	s.Wait()
}

func TestScheduler_FailureKeepsPriorResult(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	enricher.fail = true
	close(enricher.release)
	s := NewScheduler(enricher, target, Config{
		Format:    Policy{QuietPeriod: time.Millisecond, MinLength: 1},
		Summarize: Policy{QuietPeriod: time.Hour, MinLength: 1},
	}, logging.Discard(), nil)

	target.mu.Lock()
	target.formatted["room"] = "Prior."
	target.mu.Unlock()
	target.setRaw("room", "new words")
	s.Touch("room", KindFormat)

	assert.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return len(target.failures) == 1
	}, time.Second, time.Millisecond)
	s.Wait()

	assert.Equal(t, "Prior.", target.get(target.formatted, "room"))
	assert.Equal(t, 1, s.Stats("room").Failed)

	// The next change retries.
	enricher.mu.Lock()
	enricher.fail = false
	enricher.mu.Unlock()
	target.setRaw("room", "new words again")
	s.Touch("room", KindFormat)
	assert.Eventually(t, func() bool {
		return target.get(target.formatted, "room") == "NEW WORDS AGAIN"
	}, time.Second, time.Millisecond)
}

func TestScheduler_CancelAndStop(t *testing.T) {
	target := newFakeTarget()
	enricher := newGatedEnricher()
	close(enricher.release)
	s := NewScheduler(enricher, target, Config{
		Format:    Policy{QuietPeriod: 20 * time.Millisecond, MinLength: 1},
		Summarize: Policy{QuietPeriod: 20 * time.Millisecond, MinLength: 1},
	}, logging.Discard(), nil)

	target.setRaw("room", "some text")
	s.Touch("room", KindFormat)
	s.Cancel("room")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, enricher.callCount())

	s.Touch("room", KindFormat)
	s.Stop()
	s.Touch("room", KindFormat)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, enricher.callCount())
}
