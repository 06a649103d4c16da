package signal

import (
	"container/list"
	"sync"
)

const dedupCapacity = 10_000

// Classification is the remembered outcome of a processed signal. Replays of
// the same signal_id get the original outcome back instead of a second trade.
type Classification struct {
	TradeID  string
	Accepted bool
	Code     string
	Message  string
}

// Dedup is a bounded LRU of signal_id -> classification. Oldest entries fall
// off when the window is full.
type Dedup struct {
	mu      sync.Mutex
	cap     int
	order   *list.List
	entries map[string]*list.Element
}

type dedupEntry struct {
	id     string
	result Classification
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = dedupCapacity
	}
	return &Dedup{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

// Seen returns the recorded classification for a signal id, refreshing its
// recency.
func (d *Dedup) Seen(signalID string) (Classification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.entries[signalID]
	if !ok {
		return Classification{}, false
	}
	d.order.MoveToFront(el)
	return el.Value.(*dedupEntry).result, true
}

// Record stores the outcome for a signal id, evicting the least recently used
// entry at capacity. Recording an already-seen id updates the outcome.
func (d *Dedup) Record(signalID string, result Classification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[signalID]; ok {
		el.Value.(*dedupEntry).result = result
		d.order.MoveToFront(el)
		return
	}

	if d.order.Len() >= d.cap {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(*dedupEntry).id)
		}
	}
	d.entries[signalID] = d.order.PushFront(&dedupEntry{id: signalID, result: result})
}

// Len reports the number of remembered signal ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
