package gossip

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrgossip/pkg/store"
)

type batch struct {
	to     string
	values []store.Value
}

type recorder struct {
	batches []batch
	failFor string
}

func (r *recorder) send(to string, values []store.Value) error {
	if to == r.failFor {
		return errors.New("queue closed")
	}
	r.batches = append(r.batches, batch{to: to, values: values})
	return nil
}

func TestTickOneBatchPerNeighbor(t *testing.T) {
	c := NewPendingCache()
	c.Enqueue("n2", 1)
	c.Enqueue("n2", 2)
	c.Enqueue("n3", 2)

	rec := &recorder{}
	s := NewScheduler(c, time.Second, rec.send, zaptest.NewLogger(t))

	require.Equal(t, 2, s.Tick())
	assert.Equal(t, []batch{
		{to: "n2", values: []store.Value{1, 2}},
		{to: "n3", values: []store.Value{2}},
	}, rec.batches)
}

func TestTickRetransmitsUntilAcked(t *testing.T) {
	c := NewPendingCache()
	c.Enqueue("n2", 42)

	rec := &recorder{}
	s := NewScheduler(c, time.Second, rec.send, zaptest.NewLogger(t))

	s.Tick()
	s.Tick()
	require.Len(t, rec.batches, 2, "unacknowledged values go out every tick")

	c.Acknowledge("n2", []store.Value{42})
	assert.Equal(t, 0, s.Tick())
	assert.Len(t, rec.batches, 2)
}

func TestTickSkipsFailedSends(t *testing.T) {
	c := NewPendingCache()
	c.Enqueue("n2", 1)
	c.Enqueue("n3", 1)

	rec := &recorder{failFor: "n2"}
	s := NewScheduler(c, time.Second, rec.send, zaptest.NewLogger(t))

	assert.Equal(t, 1, s.Tick())
	assert.Equal(t, []store.Value{1}, c.Pending("n2"), "a failed send keeps the value pending")
}

func TestSchedulerTicker(t *testing.T) {
	s := NewScheduler(NewPendingCache(), 5*time.Millisecond, func(string, []store.Value) error { return nil }, nil)
	assert.Nil(t, s.C())

	s.Start()
	defer s.Stop()
	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}
	assert.Equal(t, 5*time.Millisecond, s.Interval())
}
