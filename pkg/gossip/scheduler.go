package gossip

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/store"
)

// SendFunc delivers one gossip batch to a neighbour. It must not block on the
// network; an error means the batch was not queued.
type SendFunc func(neighbor string, values []store.Value) error

// Scheduler resends every pending set once per tick.
type Scheduler struct {
	cache    *PendingCache
	interval time.Duration
	send     SendFunc
	log      *zap.Logger
	ticker   *time.Ticker
}

func NewScheduler(cache *PendingCache, interval time.Duration, send SendFunc, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cache:    cache,
		interval: interval,
		send:     send,
		log:      log,
	}
}

// Start arms the ticker. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.interval)
	}
}

// C fires once per interval after Start. It is nil before Start, which blocks
// forever in a select.
func (s *Scheduler) C() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

// SetLogger replaces the logger used by Tick. Call it from the goroutine that
// calls Tick.
func (s *Scheduler) SetLogger(log *zap.Logger) {
	if log != nil {
		s.log = log
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Tick sends one batch per neighbour with pending values and returns how
// many batches were queued.
func (s *Scheduler) Tick() int {
	telemetry.GossipRounds.Inc()

	sent := 0
	for _, nb := range s.cache.Neighbors() {
		values := s.cache.Pending(nb)
		if len(values) == 0 {
			continue
		}
		if err := s.send(nb, values); err != nil {
			s.log.Warn("gossip send failed",
				zap.String("neighbor", nb),
				zap.Int("values", len(values)),
				zap.Error(err))
			continue
		}
		telemetry.GossipValuesSent.Add(float64(len(values)))
		sent++
	}
	if sent > 0 {
		s.log.Debug("gossip round", zap.Int("batches", sent), zap.Int("pending", s.cache.Total()))
	}
	return sent
}
