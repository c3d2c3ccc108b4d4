package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
)

// Stdio reads one JSON envelope per line from in and writes one per line to
// out. Lines that do not parse as an envelope are logged and skipped.
type Stdio struct {
	in    io.Reader
	out   *bufio.Writer
	log   *zap.Logger
	inbox chan protocol.Message

	mu     sync.Mutex
	queue  []protocol.Message
	ready  chan struct{}
	closed bool
}

func NewStdio(in io.Reader, out io.Writer, log *zap.Logger) *Stdio {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stdio{
		in:    in,
		out:   bufio.NewWriter(out),
		log:   log,
		inbox: make(chan protocol.Message, 256),
		ready: make(chan struct{}, 1),
	}
}

// Inbox is closed once the input reaches EOF.
func (s *Stdio) Inbox() <-chan protocol.Message {
	return s.inbox
}

// Send queues msg for the writer. The queue is unbounded so Send never blocks.
func (s *Stdio) Send(msg protocol.Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// Run reads input in the background and writes queued envelopes until ctx is
// done, then flushes what is left. A write failure is returned immediately;
// the process cannot talk to the harness any more.
func (s *Stdio) Run(ctx context.Context) error {
	go s.readLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return s.flush()
		case <-s.ready:
			if err := s.flush(); err != nil {
				s.mu.Lock()
				s.closed = true
				s.mu.Unlock()
				return err
			}
		}
	}
}

func (s *Stdio) flush() error {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, msg := range batch {
		line, err := json.Marshal(msg)
		if err != nil {
			s.log.Error("dropping unencodable envelope", zap.String("dest", msg.Dest), zap.Error(err))
			continue
		}
		if _, err := s.out.Write(line); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		if err := s.out.WriteByte('\n'); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	}
	if err := s.out.Flush(); err != nil {
		return fmt.Errorf("flush stdout: %w", err)
	}
	return nil
}

func (s *Stdio) readLoop(ctx context.Context) {
	defer close(s.inbox)

	r := bufio.NewReaderSize(s.in, 64<<10)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var msg protocol.Message
			if derr := json.Unmarshal(line, &msg); derr != nil {
				s.log.Warn("skipping unparseable envelope", zap.ByteString("line", bytes.TrimSpace(line)), zap.Error(derr))
			} else {
				select {
				case s.inbox <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Error("read stdin", zap.Error(err))
			}
			return
		}
	}
}
