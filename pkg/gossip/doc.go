// Package gossip implements the retransmission side of value replication for
// zephyrgossip: a per-neighbour cache of values that have not been
// acknowledged yet, and a fixed-period scheduler that pushes each cache entry
// to its neighbour until an acknowledgement naming that value arrives.
//
// Every (neighbour, value) pair moves through three states:
//
//	Unsent --enqueue--> Pending --ack from that neighbour--> Acked
//
// A Pending value is resent on every tick. Loss, delay and duplication in the
// transport only cost extra retransmissions; Enqueue and Acknowledge are both
// idempotent, so duplicated or reordered gossip and acks leave the cache in
// the same state as a single in-order delivery.
//
// Typical usage:
//
//	cache := gossip.NewPendingCache()
//	sched := gossip.NewScheduler(cache, 200*time.Millisecond, send, logger)
//	sched.Start()
//	defer sched.Stop()
//	for range sched.C() {
//		sched.Tick()
//	}
//
// The scheduler does not own a goroutine; the caller selects on C() next to
// its other event sources so all state mutation stays on one goroutine.
package gossip
