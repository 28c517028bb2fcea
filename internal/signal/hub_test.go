package signal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

func TestHubPublishAndCancel(t *testing.T) {
	h := NewHub(zerolog.Nop())

	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.SubscriberCount())

	sig := &domain.TradingSignal{UID: "SIG_20250822140500_600036"}
	h.Publish(sig)
	assert.Same(t, sig, <-ch)

	cancel()
	assert.Zero(t, h.SubscriberCount())
	cancel() // second call is a no-op

	_, open := <-ch
	assert.False(t, open, "channel closes on cancel")
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(zerolog.Nop())

	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		h.Publish(&domain.TradingSignal{UID: fmt.Sprintf("SIG_%d", i)})
	}

	assert.Len(t, ch, 16, "publisher never blocks past the buffer")
}

type stubSender struct {
	name string
	got  []*domain.TradingSignal
	err  error
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) Send(_ context.Context, sig *domain.TradingSignal) error {
	s.got = append(s.got, sig)
	return s.err
}

func TestFanoutDeliversPastFailures(t *testing.T) {
	f := NewFanout(zerolog.Nop())
	bad := &stubSender{name: "webhook", err: errors.New("endpoint down")}
	good := &stubSender{name: "log"}
	f.Add(bad)
	f.Add(good)

	assert.Equal(t, []string{"webhook", "log"}, f.Names())

	sig := &domain.TradingSignal{UID: "SIG_20250822140500_600036"}
	f.Send(context.Background(), sig)

	require.Len(t, bad.got, 1)
	require.Len(t, good.got, 1)
	assert.Same(t, sig, good.got[0])
}
