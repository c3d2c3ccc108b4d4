package node

import "fmt"

// IDs hands out message ids and cluster-unique ids. It is owned by the node
// loop and is not safe for concurrent use.
type IDs struct {
	seed   uint64
	msgID  int
	unique uint64
}

func NewIDs(seed uint64) *IDs {
	return &IDs{seed: seed}
}

// NextMsgID returns 1, 2, 3, ...
func (g *IDs) NextMsgID() int {
	g.msgID++
	return g.msgID
}

// Unique returns an id no other node will produce: node ids are distinct and
// the counter never repeats within one process. The seed keeps ids from a
// restarted process apart from its previous run.
func (g *IDs) Unique(nodeID string) string {
	g.unique++
	return fmt.Sprintf("%s-%x-%d", nodeID, g.seed, g.unique)
}
