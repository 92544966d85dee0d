package store

import (
	"context"
	"sync"
	"time"

	"github.com/tidewater-io/tidewater/internal/watermark"
)

// MockStore implements Store in memory for testing.
// It is exported so that tests in other packages can use it.
//
// Failure injection: FailConnect makes the next n Connect calls fail, and
// FailOp makes the next n calls of a named watermark operation fail. All
// injected failures return errInjected.
type MockStore struct {
	mu sync.Mutex

	watermarks map[string]*pipelineWatermark

	failConnect int
	failOps     map[string]int
	connects    int
	releases    int

	// now is swappable so tests can control the safety-delay clock.
	now func() time.Time
}

type pipelineWatermark struct {
	committer    watermark.CommitterWatermark
	hasCommitter bool

	readerLo      uint64
	readerSetAt   time.Time
	hasReaderLo   bool
	prunerHi      uint64
	hasPrunerHi   bool
}

type injectedError struct{}

func (injectedError) Error() string { return "store: injected failure" }

// ErrInjected is the error returned by injected mock failures.
var ErrInjected error = injectedError{}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		watermarks: make(map[string]*pipelineWatermark),
		failOps:    make(map[string]int),
		now:        time.Now,
	}
}

// SetClock replaces the clock used for reader_lo timestamps.
func (m *MockStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailConnect makes the next n Connect calls fail.
func (m *MockStore) FailConnect(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failConnect = n
}

// FailOp makes the next n calls of the named operation fail. Operation names
// match the Connection method names.
func (m *MockStore) FailOp(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOps[op] = n
}

// Connects returns how many connections have been handed out.
func (m *MockStore) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Releases returns how many connections have been released, for asserting
// that callers do not leak connections.
func (m *MockStore) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

func (m *MockStore) Connect(_ context.Context) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConnect > 0 {
		m.failConnect--
		return nil, ErrInjected
	}
	m.connects++
	return &mockConn{store: m}, nil
}

func (m *MockStore) failNext(op string) bool {
	if m.failOps[op] > 0 {
		m.failOps[op]--
		return true
	}
	return false
}

func (m *MockStore) pipeline(name string) *pipelineWatermark {
	pw, ok := m.watermarks[name]
	if !ok {
		pw = &pipelineWatermark{}
		m.watermarks[name] = pw
	}
	return pw
}

// SeedReaderWatermark installs a reader_lo as if it was advanced at setAt.
func (m *MockStore) SeedReaderWatermark(pipeline string, readerLo uint64, setAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw := m.pipeline(pipeline)
	pw.readerLo = readerLo
	pw.readerSetAt = setAt
	pw.hasReaderLo = true
}

// PrunerHi returns the persisted pruner_hi for a pipeline.
func (m *MockStore) PrunerHi(pipeline string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw := m.pipeline(pipeline)
	return pw.prunerHi, pw.hasPrunerHi
}

// CommitterWatermark returns the persisted committer watermark for a pipeline.
func (m *MockStore) CommitterWatermark(pipeline string) (watermark.CommitterWatermark, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw := m.pipeline(pipeline)
	return pw.committer, pw.hasCommitter
}

type mockConn struct {
	store *MockStore
}

func (c *mockConn) CommitterWatermark(_ context.Context, pipeline string) (*watermark.CommitterWatermark, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.failNext("CommitterWatermark") {
		return nil, ErrInjected
	}
	pw := c.store.pipeline(pipeline)
	if !pw.hasCommitter {
		return nil, nil
	}
	wm := pw.committer
	return &wm, nil
}

func (c *mockConn) SetCommitterWatermark(_ context.Context, pipeline string, wm watermark.CommitterWatermark) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.failNext("SetCommitterWatermark") {
		return false, ErrInjected
	}
	pw := c.store.pipeline(pipeline)
	if pw.hasCommitter && wm.CheckpointHiInclusive <= pw.committer.CheckpointHiInclusive {
		return false, nil
	}
	pw.committer = wm
	pw.hasCommitter = true
	return true, nil
}

func (c *mockConn) SetReaderWatermark(_ context.Context, pipeline string, readerLo uint64) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.failNext("SetReaderWatermark") {
		return false, ErrInjected
	}
	pw := c.store.pipeline(pipeline)
	if pw.hasReaderLo && readerLo <= pw.readerLo {
		return false, nil
	}
	pw.readerLo = readerLo
	pw.readerSetAt = c.store.now()
	pw.hasReaderLo = true
	return true, nil
}

func (c *mockConn) PrunerWatermark(_ context.Context, pipeline string, delay time.Duration) (*watermark.PrunerWatermark, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.failNext("PrunerWatermark") {
		return nil, ErrInjected
	}
	pw := c.store.pipeline(pipeline)
	if !pw.hasReaderLo {
		return nil, nil
	}
	elapsed := c.store.now().Sub(pw.readerSetAt)
	return &watermark.PrunerWatermark{
		PrunerHi:  pw.prunerHi,
		ReaderLo:  pw.readerLo,
		WaitForMs: (delay - elapsed).Milliseconds(),
	}, nil
}

func (c *mockConn) SetPrunerWatermark(_ context.Context, pipeline string, prunerHi uint64) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.failNext("SetPrunerWatermark") {
		return false, ErrInjected
	}
	pw := c.store.pipeline(pipeline)
	if pw.hasPrunerHi && prunerHi <= pw.prunerHi {
		return false, nil
	}
	pw.prunerHi = prunerHi
	pw.hasPrunerHi = true
	return true, nil
}

func (c *mockConn) Release() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.releases++
	return nil
}
