package signal

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// Hub fans emitted signals out to live subscribers. Subscribers that
// fall behind lose signals instead of stalling the publisher; the feed
// is a convenience view, the repository is the record.
type Hub struct {
	mu   sync.Mutex
	subs map[chan *domain.TradingSignal]struct{}
	log  zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[chan *domain.TradingSignal]struct{}),
		log:  log.With().Str("component", "signal_hub").Logger(),
	}
}

// Subscribe registers a listener. The caller must invoke the returned
// cancel to release it; cancel is safe to call twice.
func (h *Hub) Subscribe() (<-chan *domain.TradingSignal, func()) {
	ch := make(chan *domain.TradingSignal, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the signal to every subscriber without blocking
func (h *Hub) Publish(sig *domain.TradingSignal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- sig:
		default:
			h.log.Warn().Str("uid", sig.UID).Msg("Dropped signal for slow subscriber")
		}
	}
}

// SubscriberCount reports the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
