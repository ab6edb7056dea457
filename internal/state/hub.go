package state

import "sync"

// hub fans snapshots out to subscribers. Each subscriber holds at most the
// latest undelivered snapshot, so publishing never blocks the store.
type hub[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func (h *hub[T]) subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	id := h.next
	h.next++
	ch := make(chan T, 1)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (h *hub[T]) publish(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- value:
			continue
		default:
		}
		// 丢弃未读的旧快照，只保留最新的。
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}
