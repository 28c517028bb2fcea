package signal

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// Sender delivers an emitted signal to an external channel. Delivery is
// best effort; a failing sender never blocks the scan.
type Sender interface {
	Name() string
	Send(ctx context.Context, s *domain.TradingSignal) error
}

// LogSender writes each signal to the structured log. It is the one
// sender every deployment has.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates the log sender
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("sender", "log").Logger()}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, sig *domain.TradingSignal) error {
	s.log.Info().
		Str("uid", sig.UID).
		Str("stock", sig.StockCode).
		Str("stock_name", sig.StockName).
		Str("etf", sig.ETFCode).
		Float64("weight", sig.Weight).
		Float64("confidence", sig.ConfidenceScore).
		Str("level", string(sig.ConfidenceLevel)).
		Str("risk", string(sig.RiskLevel)).
		Str("reason", sig.Reason).
		Msg("Trading signal")
	return nil
}

// Fanout forwards every emitted signal to all registered senders
type Fanout struct {
	mu      sync.RWMutex
	senders []Sender
	log     zerolog.Logger
}

// NewFanout creates an empty fanout
func NewFanout(log zerolog.Logger) *Fanout {
	return &Fanout{log: log.With().Str("component", "sender_fanout").Logger()}
}

// Add registers a sender
func (f *Fanout) Add(s Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders = append(f.senders, s)
}

// Names lists the registered senders for the plugin inventory
func (f *Fanout) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, len(f.senders))
	for i, s := range f.senders {
		names[i] = s.Name()
	}
	return names
}

// Send delivers to every sender, logging failures rather than
// propagating them
func (f *Fanout) Send(ctx context.Context, sig *domain.TradingSignal) {
	f.mu.RLock()
	senders := f.senders
	f.mu.RUnlock()

	for _, s := range senders {
		if err := s.Send(ctx, sig); err != nil {
			f.log.Warn().Str("sender", s.Name()).Str("uid", sig.UID).Err(err).Msg("Sender failed")
		}
	}
}
