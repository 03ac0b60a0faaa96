package jobs

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// table арена задач с индексом по id. Слоты удалённых задач переиспользуются.
// Счётчик active считает незавершённые задачи для контроля допуска.
type table struct {
	mu     sync.RWMutex
	slots  []*job
	index  map[string]int
	free   []int
	active int
}

func newTable() *table {
	return &table{index: make(map[string]int)}
}

// admit вставляет задачу, если незавершённых меньше limit (limit <= 0 - без
// ограничения). Проверка и вставка атомарны.
func (t *table) admit(j *job, limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit > 0 && t.active >= limit {
		return false
	}
	var slot int
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[slot] = j
	} else {
		slot = len(t.slots)
		t.slots = append(t.slots, j)
	}
	t.index[j.id] = slot
	t.active++
	return true
}

// release освобождает место для допуска после завершения задачи
func (t *table) release() {
	t.mu.Lock()
	if t.active > 0 {
		t.active--
	}
	t.mu.Unlock()
}

func (t *table) get(id string) (*job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.slots[slot], true
}

func (t *table) activeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func (t *table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// all задачи в порядке подачи
func (t *table) all() []*job {
	t.mu.RLock()
	out := make([]*job, 0, len(t.index))
	for _, slot := range t.index {
		out = append(out, t.slots[slot])
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b *job) int {
		if c := a.submitted.Compare(b.submitted); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return out
}

// prune удаляет терминальные задачи, завершённые раньше cutoff
func (t *table) prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, slot := range t.index {
		j := t.slots[slot]
		j.mu.Lock()
		expired := j.state.IsTerminal() && j.finished.Before(cutoff)
		j.mu.Unlock()
		if !expired {
			continue
		}
		delete(t.index, id)
		t.slots[slot] = nil
		t.free = append(t.free, slot)
		removed++
	}
	return removed
}
