package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
	"github.com/ryandielhenn/zephyrgossip/pkg/store"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
	"github.com/ryandielhenn/zephyrgossip/pkg/transport"
)

var ErrInvalidConfig = errors.New("invalid node config")

type Config struct {
	Stride       int
	TickInterval time.Duration
	TopologyMode topology.Mode
	// Seed feeds the unique-id generator; zero draws one at random.
	Seed   uint64
	Logger *zap.Logger
}

func (c Config) validate() error {
	if c.Stride < 2 {
		return fmt.Errorf("%w: stride must be > 1, got %d", ErrInvalidConfig, c.Stride)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidConfig, c.TickInterval)
	}
	return nil
}

// Node is one cluster member. All state changes happen on the goroutine
// running Run; the accessors below are safe to call from anywhere.
type Node struct {
	tr transport.Transport
	// base is the logger from Config; log adds the node id once init arrives.
	base *zap.Logger
	log  *zap.Logger

	mu      sync.RWMutex
	id      string
	nodeIDs []string

	values  *store.Store
	topo    *topology.Manager
	pending *gossip.PendingCache
	sched   *gossip.Scheduler
	ids     *IDs
	started time.Time
}

func New(tr transport.Transport, cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	n := &Node{
		tr:      tr,
		base:    log,
		log:     log,
		values:  store.New(),
		topo:    topology.NewManager(cfg.Stride, cfg.TopologyMode),
		pending: gossip.NewPendingCache(),
		ids:     NewIDs(seed),
		started: time.Now(),
	}
	n.sched = gossip.NewScheduler(n.pending, cfg.TickInterval, n.sendGossip, log.Named("gossip"))
	return n, nil
}

// Run processes inbound messages and gossip ticks one at a time until ctx is
// done or the transport's inbox is closed.
func (n *Node) Run(ctx context.Context) error {
	n.sched.Start()
	defer n.sched.Stop()

	n.log.Info("node loop started", zap.Duration("tick", n.sched.Interval()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-n.tr.Inbox():
			if !ok {
				n.log.Info("inbox closed, stopping")
				return nil
			}
			n.handle(msg)
		case <-n.sched.C():
			n.sched.Tick()
			n.updateGauges()
		}
	}
}

func (n *Node) sendGossip(neighbor string, values []store.Value) error {
	msg, err := protocol.New(n.ID(), neighbor, n.ids.NextMsgID(), protocol.Gossip{Values: values})
	if err != nil {
		return err
	}
	return n.send(msg, protocol.TypeGossip)
}

func (n *Node) send(msg protocol.Message, msgType string) error {
	if err := n.tr.Send(msg); err != nil {
		return err
	}
	telemetry.MessagesSent.WithLabelValues(msgType).Inc()
	return nil
}

func (n *Node) updateGauges() {
	telemetry.StoredValues.Set(float64(n.values.Len()))
	telemetry.PendingValues.Set(float64(n.pending.Total()))
	telemetry.Neighbors.Set(float64(n.topo.Degree()))
}

// ID is empty until the node has been initialised.
func (n *Node) ID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

func (n *Node) NodeIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.nodeIDs)
}

func (n *Node) Values() []store.Value {
	return n.values.Snapshot()
}

func (n *Node) Contains(v store.Value) bool {
	return n.values.Contains(v)
}

func (n *Node) Neighbors() []string {
	return n.topo.Neighbors()
}

func (n *Node) Pending(neighbor string) []store.Value {
	return n.pending.Pending(neighbor)
}

func (n *Node) PendingTotal() int {
	return n.pending.Total()
}
