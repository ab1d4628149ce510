package session

import (
	"sync"
	"time"

	"github.com/hpungsan/dirsync/internal/metrics"
	"github.com/hpungsan/dirsync/internal/store"
)

// Signal is the view-changed notification published once per raw
// notification, whether or not it changed anything.
type Signal struct {
	Session   string         `json:"session"`
	Seq       uint64         `json:"seq"`
	Kind      string         `json:"kind"`
	Op        string         `json:"op,omitempty"`
	Path      string         `json:"path"`
	Counters  store.Counters `json:"counters"`
	Timestamp int64          `json:"timestamp"`
}

// broadcaster fans signals out to subscribers. Slow subscribers miss signals
// rather than stall the session.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Signal]struct{}
	closed      bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[chan Signal]struct{})}
}

func (b *broadcaster) subscribe() chan Signal {
	ch := make(chan Signal, 64)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[ch] = struct{}{}
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Signal) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
}

func (b *broadcaster) publish(sig Signal) {
	if sig.Timestamp == 0 {
		sig.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- sig:
		default:
			// Drop for slow consumer
		}
	}
}

// close closes every subscriber channel; later subscribers get a closed channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	for ch := range b.subscribers {
		close(ch)
	}
	clear(b.subscribers)
	b.closed = true
	b.mu.Unlock()
	metrics.SetSubscribers(0)
}
