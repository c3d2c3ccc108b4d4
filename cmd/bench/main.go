package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/node"
	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
	"github.com/ryandielhenn/zephyrgossip/pkg/store"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
	"github.com/ryandielhenn/zephyrgossip/pkg/transport"
)

// bench runs an in-process cluster over the simulated network and reports
// gossip cost and propagation latency for one stride/tick setting.
func main() {
	nodes := flag.Int("nodes", 25, "cluster size")
	stride := flag.Int("stride", 5, "topology stride")
	tick := flag.Duration("tick", 200*time.Millisecond, "gossip interval")
	delay := flag.Duration("delay", 100*time.Millisecond, "max one-way network delay")
	ops := flag.Int("ops", 200, "broadcasts to issue")
	rate := flag.Duration("every", 10*time.Millisecond, "pause between broadcasts")
	loss := flag.Float64("loss", 0, "node-to-node drop probability")
	settle := flag.Duration("settle", 30*time.Second, "give up waiting for convergence after this long")
	seed := flag.Int64("seed", 1, "network RNG seed")
	level := flag.String("log", "warn", "node log level")
	flag.Parse()

	switch {
	case *nodes < 1:
		usage("-nodes must be at least 1")
	case *stride < 2:
		usage("-stride must be at least 2")
	case *tick <= 0:
		usage("-tick must be positive")
	case *ops < 1:
		usage("-ops must be at least 1")
	case *delay < 0 || *rate < 0 || *settle <= 0:
		usage("-delay and -every must not be negative, -settle must be positive")
	case *loss < 0 || *loss >= 1:
		usage("-loss must be in [0, 1)")
	}

	log, err := telemetry.NewLogger(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	net := transport.NewNetwork(transport.NetworkConfig{
		MaxDelay: *delay,
		DropRate: *loss,
		Seed:     *seed,
	})
	defer net.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	ids := make([]string, *nodes)
	members := make([]*node.Node, *nodes)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i+1)
		n, err := node.New(net.Endpoint(ids[i]), node.Config{
			Stride:       *stride,
			TickInterval: *tick,
			TopologyMode: topology.ModeComputed,
			Seed:         uint64(i + 1),
			Logger:       log.Named(ids[i]),
		})
		if err != nil {
			log.Fatal("build node", zap.Error(err))
		}
		members[i] = n
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Run(ctx)
		}()
	}

	client := net.Endpoint("c1")
	replies := make(chan protocol.Message, 1024)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-client.Inbox():
				select {
				case replies <- msg:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// 1. Initialise every node and wait for all init_ok replies
	msgID := 0
	for _, id := range ids {
		msgID++
		msg, err := protocol.New("c1", id, msgID, protocol.Init{NodeID: id, NodeIDs: ids})
		if err != nil {
			log.Fatal("encode init", zap.Error(err))
		}
		if err := client.Send(msg); err != nil {
			log.Fatal("send init", zap.Error(err))
		}
	}
	for range ids {
		select {
		case <-replies:
		case <-time.After(*settle):
			log.Fatal("cluster did not initialise")
		}
	}

	maxDegree := 0
	for _, n := range members {
		maxDegree = max(maxDegree, len(n.Neighbors()))
	}
	base := net.Stats()

	// 2. Broadcast values at random nodes and time their spread
	rng := rand.New(rand.NewSource(*seed))
	sentAt := make(map[store.Value]time.Time, *ops)
	var mu sync.Mutex
	go func() {
		for i := range *ops {
			v := store.Value(i)
			msgID++
			msg, err := protocol.New("c1", ids[rng.Intn(len(ids))], msgID, protocol.Broadcast{Message: v})
			if err != nil {
				continue
			}
			mu.Lock()
			sentAt[v] = time.Now()
			mu.Unlock()
			_ = client.Send(msg)
			time.Sleep(*rate)
		}
	}()

	latencies := make([]time.Duration, 0, *ops)
	done := make(map[store.Value]bool, *ops)
	deadline := time.Now().Add(*settle + time.Duration(*ops)*(*rate))
	for len(done) < *ops && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		for v, at := range sentAt {
			if done[v] || !everywhere(members, v) {
				continue
			}
			done[v] = true
			latencies = append(latencies, time.Since(at))
		}
		mu.Unlock()
	}
	converged := net.Stats()

	// 3. Let outstanding acknowledgements drain
	quietBy := time.Now().Add(*settle)
	for pending(members) > 0 && time.Now().Before(quietBy) {
		time.Sleep(5 * time.Millisecond)
	}
	final := net.Stats()

	perOp := func(s transport.Stats) float64 {
		return float64(s.NodeToNode-base.NodeToNode) / float64(*ops)
	}
	slices.Sort(latencies)

	fmt.Printf("nodes=%d stride=%d tick=%s delay<=%s loss=%.2f\n", *nodes, *stride, *tick, *delay, *loss)
	fmt.Printf("max degree:            %d\n", maxDegree)
	fmt.Printf("converged:             %d/%d\n", len(latencies), *ops)
	fmt.Printf("msgs/op at converge:   %.2f\n", perOp(converged))
	fmt.Printf("msgs/op at quiescence: %.2f\n", perOp(final))
	fmt.Printf("dropped:               %d\n", final.Dropped-base.Dropped)
	if len(latencies) > 0 {
		fmt.Printf("median latency:        %s\n", latencies[len(latencies)/2].Round(time.Millisecond))
		fmt.Printf("max latency:           %s\n", latencies[len(latencies)-1].Round(time.Millisecond))
	}
	fmt.Printf("still pending:         %d\n", pending(members))
}

func usage(msg string) {
	fmt.Fprintln(os.Stderr, "bench:", msg)
	flag.Usage()
	os.Exit(2)
}

func everywhere(members []*node.Node, v store.Value) bool {
	for _, n := range members {
		if !n.Contains(v) {
			return false
		}
	}
	return true
}

func pending(members []*node.Node) int {
	total := 0
	for _, n := range members {
		total += n.PendingTotal()
	}
	return total
}
