package runner

import (
	"sort"
	"sync"
	"time"

	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/storage"
)

// ResponsivenessTimer collects the timings scenarios record. Timings of an
// attempt are kept only once the attempt is committed, and a committed
// attempt replaces earlier ones for the same run.
type ResponsivenessTimer struct {
	now func() time.Time

	mu        sync.Mutex
	current   dataframe.RunKey
	pending   []storage.ResponsivenessRecord
	committed map[dataframe.RunKey][]storage.ResponsivenessRecord
}

func NewResponsivenessTimer() *ResponsivenessTimer {
	return &ResponsivenessTimer{
		now:       time.Now,
		committed: make(map[dataframe.RunKey][]storage.ResponsivenessRecord),
	}
}

// Begin starts collecting for an attempt of key, dropping anything uncommitted.
func (t *ResponsivenessTimer) Begin(key dataframe.RunKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = key
	t.pending = nil
}

func (t *ResponsivenessTimer) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed[t.current] = t.pending
	t.pending = nil
}

func (t *ResponsivenessTimer) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
}

func (t *ResponsivenessTimer) Record(measure string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, storage.ResponsivenessRecord{Key: t.current, Measure: measure, Duration: d})
}

func (t *ResponsivenessTimer) Measure(measure string, fn func() error) error {
	start := t.now()
	if err := fn(); err != nil {
		return err
	}
	t.Record(measure, t.now().Sub(start))
	return nil
}

// Records returns the committed timings ordered by run.
func (t *ResponsivenessTimer) Records() []storage.ResponsivenessRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]dataframe.RunKey, 0, len(t.committed))
	for k := range t.committed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var out []storage.ResponsivenessRecord
	for _, k := range keys {
		out = append(out, t.committed[k]...)
	}
	return out
}
