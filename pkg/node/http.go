package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// Healthz returns 200 OK to indicate the process is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the node's id, value count, neighbours and pending total as JSON.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID       int       `json:"pid"`
		Now       time.Time `json:"now"`
		Uptime    string    `json:"uptime"`
		NodeID    string    `json:"node_id"`
		Values    int       `json:"values"`
		Neighbors []string  `json:"neighbors"`
		Pending   int       `json:"pending"`
	}
	data, _ := json.Marshal(resp{
		PID:       os.Getpid(),
		Now:       time.Now(),
		Uptime:    time.Since(n.started).Round(time.Second).String(),
		NodeID:    n.ID(),
		Values:    n.values.Len(),
		Neighbors: n.topo.Neighbors(),
		Pending:   n.pending.Total(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
