package node

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

// handle decodes one envelope, applies it and sends whatever reply it needs.
// Protocol errors become error replies; nothing here stops the node.
func (n *Node) handle(msg protocol.Message) {
	start := time.Now()

	h, p, err := protocol.Decode(msg.Body)
	if err == nil {
		err = n.dispatch(msg, h, p)
	}
	if err != nil {
		n.fail(msg, h, err)
	}

	msgType := h.Type
	if !protocol.KnownType(msgType) {
		msgType = "unknown"
	}
	telemetry.ObserveHandle(msgType, start)
}

func (n *Node) dispatch(msg protocol.Message, h protocol.Header, p protocol.Payload) error {
	if _, isInit := p.(protocol.Init); !isInit && n.ID() == "" {
		return protocol.NewRPCError(protocol.CodeTemporarilyUnavailable, "node has not received init")
	}

	switch p := p.(type) {
	case protocol.Init:
		return n.handleInit(msg, h, p)
	case protocol.Broadcast:
		return n.handleBroadcast(msg, h, p)
	case protocol.Gossip:
		return n.handleGossip(msg, h, p)
	case protocol.GossipOK:
		n.handleGossipOK(msg, p)
		return nil
	case protocol.Read:
		return n.reply(msg, h, protocol.ReadOK{Messages: n.values.Snapshot()})
	case protocol.Topology:
		return n.handleTopology(msg, h, p)
	case protocol.Echo:
		return n.reply(msg, h, protocol.EchoOK{Echo: p.Echo})
	case protocol.Generate:
		return n.reply(msg, h, protocol.GenerateOK{ID: n.ids.Unique(n.ID())})
	case protocol.Error:
		n.log.Warn("peer reported error",
			zap.String("from", msg.Src),
			zap.Int("code", int(p.Code)),
			zap.String("text", p.Text))
		return nil
	case protocol.InitOK, protocol.BroadcastOK, protocol.ReadOK, protocol.TopologyOK,
		protocol.EchoOK, protocol.GenerateOK:
		return protocol.NewRPCError(protocol.CodeNotSupported, fmt.Sprintf("node does not accept %s", p.Type()))
	default:
		return protocol.NewRPCError(protocol.CodeNotSupported, fmt.Sprintf("no handler for %s", p.Type()))
	}
}

func (n *Node) handleInit(msg protocol.Message, h protocol.Header, p protocol.Init) error {
	diff, err := n.topo.Init(p.NodeID, p.NodeIDs)
	if err != nil {
		return fmt.Errorf("%w: init: %v", protocol.ErrMalformed, err)
	}

	n.mu.Lock()
	n.id = p.NodeID
	n.nodeIDs = slices.Clone(p.NodeIDs)
	n.mu.Unlock()

	n.log = n.base.With(zap.String("node", p.NodeID))
	n.sched.SetLogger(n.log.Named("gossip"))
	n.log.Info("initialised",
		zap.Int("cluster_size", len(p.NodeIDs)),
		zap.Strings("neighbors", n.topo.Neighbors()))

	n.applyTopology(diff)
	return n.reply(msg, h, protocol.InitOK{})
}

func (n *Node) handleBroadcast(msg protocol.Message, h protocol.Header, p protocol.Broadcast) error {
	if n.values.Insert(p.Message) {
		for _, nb := range n.topo.Neighbors() {
			n.pending.Enqueue(nb, p.Message)
		}
	}
	return n.reply(msg, h, protocol.BroadcastOK{})
}

// handleGossip stores the batch, queues the new values for every neighbour but
// the sender, and acknowledges the whole batch.
func (n *Node) handleGossip(msg protocol.Message, h protocol.Header, p protocol.Gossip) error {
	neighbors := n.topo.Neighbors()
	fresh := 0
	for _, v := range p.Values {
		if !n.values.Insert(v) {
			continue
		}
		fresh++
		for _, nb := range neighbors {
			if nb != msg.Src {
				n.pending.Enqueue(nb, v)
			}
		}
	}
	if fresh > 0 {
		n.log.Debug("gossip received", zap.String("from", msg.Src), zap.Int("values", len(p.Values)), zap.Int("new", fresh))
	}
	return n.reply(msg, h, protocol.GossipOK{Values: p.Values})
}

func (n *Node) handleGossipOK(msg protocol.Message, p protocol.GossipOK) {
	if removed := n.pending.Acknowledge(msg.Src, p.Values); removed > 0 {
		telemetry.ValuesAcked.Add(float64(removed))
	}
}

func (n *Node) handleTopology(msg protocol.Message, h protocol.Header, p protocol.Topology) error {
	diff, err := n.topo.AcceptOverride(p.Topology)
	if err != nil {
		return fmt.Errorf("%w: topology: %v", protocol.ErrMalformed, err)
	}
	n.applyTopology(diff)
	return n.reply(msg, h, protocol.TopologyOK{})
}

// applyTopology hands every known value to neighbours that just joined and
// drops the pending sets of neighbours that left.
func (n *Node) applyTopology(diff topology.Diff) {
	if diff.Empty() {
		return
	}
	for _, nb := range diff.Removed {
		n.pending.Forget(nb)
	}
	if len(diff.Added) > 0 {
		known := n.values.Snapshot()
		for _, nb := range diff.Added {
			for _, v := range known {
				n.pending.Enqueue(nb, v)
			}
		}
	}
	n.log.Info("topology changed",
		zap.Strings("added", diff.Added),
		zap.Strings("removed", diff.Removed),
		zap.Bool("override", n.topo.Overridden()))
	n.updateGauges()
}

func (n *Node) reply(req protocol.Message, h protocol.Header, p protocol.Payload) error {
	out, err := protocol.Reply(req, h, n.ids.NextMsgID(), p)
	if err != nil {
		return err
	}
	if err := n.send(out, p.Type()); err != nil {
		n.log.Error("reply not sent", zap.String("dest", out.Dest), zap.String("type", p.Type()), zap.Error(err))
	}
	return nil
}

// fail reports err to the sender. Replies and error bodies are never
// answered, so two nodes cannot bounce errors back and forth.
func (n *Node) fail(msg protocol.Message, h protocol.Header, err error) {
	rpcErr := protocol.AsRPCError(err)
	telemetry.ProtocolErrors.WithLabelValues(strconv.Itoa(int(rpcErr.Code))).Inc()
	n.log.Warn("rejecting message",
		zap.String("from", msg.Src),
		zap.String("type", h.Type),
		zap.Stringer("code", rpcErr.Code),
		zap.Error(err))

	if msg.Src == "" || h.IsReply() || h.Type == protocol.TypeError {
		return
	}
	if rerr := n.reply(msg, h, rpcErr.Payload()); rerr != nil {
		n.log.Error("error reply not encoded", zap.Error(rerr))
	}
}
