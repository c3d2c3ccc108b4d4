package transport

import (
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
)

// NetworkConfig shapes the simulated links. Loss only ever hits node-to-node
// traffic; client requests and replies are always delivered.
type NetworkConfig struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	DuplicateRate float64
	DropRate      float64
	Seed          int64
	InboxSize     int
}

// Stats counts envelopes handed to the network.
type Stats struct {
	Sent       int
	NodeToNode int
	Dropped    int
	Duplicated int
	ByType     map[string]int
}

// Network is an in-process message bus. Each envelope is delivered after an
// independent random delay, so envelopes can be reordered.
type Network struct {
	cfg  NetworkConfig
	done chan struct{}

	mu        sync.Mutex
	rng       *rand.Rand
	endpoints map[string]*Endpoint
	stats     Stats
	closed    bool
}

func NewNetwork(cfg NetworkConfig) *Network {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &Network{
		cfg:       cfg,
		done:      make(chan struct{}),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		endpoints: make(map[string]*Endpoint),
		stats:     Stats{ByType: make(map[string]int)},
	}
}

// Endpoint returns the attachment point for id, creating it on first use.
func (n *Network) Endpoint(id string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{id: id, net: n, inbox: make(chan protocol.Message, n.cfg.InboxSize)}
	n.endpoints[id] = ep
	return ep
}

// Close stops all in-flight deliveries.
func (n *Network) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.done)
	}
}

func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.stats
	out.ByType = make(map[string]int, len(n.stats.ByType))
	for k, v := range n.stats.ByType {
		out.ByType[k] = v
	}
	return out
}

func (n *Network) route(msg protocol.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	n.stats.Sent++
	n.stats.ByType[bodyType(msg.Body)]++

	peerLink := isNode(msg.Src) && isNode(msg.Dest)
	if peerLink {
		n.stats.NodeToNode++
		if n.cfg.DropRate > 0 && n.rng.Float64() < n.cfg.DropRate {
			n.stats.Dropped++
			return nil
		}
	}

	copies := 1
	if n.cfg.DuplicateRate > 0 && n.rng.Float64() < n.cfg.DuplicateRate {
		n.stats.Duplicated++
		copies = 2
	}
	for range copies {
		n.schedule(msg, n.delay())
	}
	return nil
}

// delay must be called with mu held.
func (n *Network) delay() time.Duration {
	spread := n.cfg.MaxDelay - n.cfg.MinDelay
	if spread <= 0 {
		return n.cfg.MinDelay
	}
	return n.cfg.MinDelay + time.Duration(n.rng.Int63n(int64(spread)+1))
}

func (n *Network) schedule(msg protocol.Message, d time.Duration) {
	deliver := func() {
		n.mu.Lock()
		ep, ok := n.endpoints[msg.Dest]
		n.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ep.inbox <- msg:
		case <-n.done:
		}
	}
	if d <= 0 {
		go deliver()
		return
	}
	time.AfterFunc(d, deliver)
}

// isNode follows the harness naming convention: nodes are n1, n2, ...;
// clients are c1, c2, ....
func isNode(id string) bool {
	return strings.HasPrefix(id, "n")
}

func bodyType(body json.RawMessage) string {
	var h protocol.Header
	if err := json.Unmarshal(body, &h); err != nil || h.Type == "" {
		return "unknown"
	}
	return h.Type
}

// Endpoint is one participant's view of the Network.
type Endpoint struct {
	id    string
	net   *Network
	inbox chan protocol.Message
}

func (e *Endpoint) ID() string {
	return e.id
}

func (e *Endpoint) Inbox() <-chan protocol.Message {
	return e.inbox
}

// Send stamps the envelope with this endpoint as source when it has none.
func (e *Endpoint) Send(msg protocol.Message) error {
	if msg.Src == "" {
		msg.Src = e.id
	}
	return e.net.route(msg)
}
