package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ryandielhenn/zephyrgossip/pkg/store"
)

// Message is the outer envelope. Body stays raw until Decode.
type Message struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

// Header holds the routing fields shared by every body.
type Header struct {
	Type      string `json:"type"`
	MsgID     *int   `json:"msg_id,omitempty"`
	InReplyTo *int   `json:"in_reply_to,omitempty"`

	// replied is set when in_reply_to is present but not a valid id.
	replied bool
}

// IsReply reports whether the body answers an earlier message.
func (h Header) IsReply() bool {
	return h.InReplyTo != nil || h.replied
}

const (
	TypeInit        = "init"
	TypeInitOK      = "init_ok"
	TypeBroadcast   = "broadcast"
	TypeBroadcastOK = "broadcast_ok"
	TypeRead        = "read"
	TypeReadOK      = "read_ok"
	TypeTopology    = "topology"
	TypeTopologyOK  = "topology_ok"
	TypeGossip      = "gossip"
	TypeGossipOK    = "gossip_ok"
	TypeEcho        = "echo"
	TypeEchoOK      = "echo_ok"
	TypeGenerate    = "generate"
	TypeGenerateOK  = "generate_ok"
	TypeError       = "error"
)

// Payload is implemented by one struct per message kind.
type Payload interface {
	Type() string
	payload()
}

type Init struct {
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type InitOK struct{}

type Broadcast struct {
	Message store.Value `json:"message"`
}

type BroadcastOK struct{}

type Read struct{}

type ReadOK struct {
	Messages []store.Value `json:"messages"`
}

type Topology struct {
	Topology map[string][]string `json:"topology"`
}

type TopologyOK struct{}

// Gossip carries a neighbour's full pending set.
type Gossip struct {
	Values []store.Value `json:"values"`
}

// GossipOK names the values the receiver acknowledges.
type GossipOK struct {
	Values []store.Value `json:"values"`
}

type Echo struct {
	Echo json.RawMessage `json:"echo"`
}

type EchoOK struct {
	Echo json.RawMessage `json:"echo"`
}

type Generate struct{}

type GenerateOK struct {
	ID string `json:"id"`
}

type Error struct {
	Code Code   `json:"code"`
	Text string `json:"text,omitempty"`
}

func (Init) Type() string        { return TypeInit }
func (InitOK) Type() string      { return TypeInitOK }
func (Broadcast) Type() string   { return TypeBroadcast }
func (BroadcastOK) Type() string { return TypeBroadcastOK }
func (Read) Type() string        { return TypeRead }
func (ReadOK) Type() string      { return TypeReadOK }
func (Topology) Type() string    { return TypeTopology }
func (TopologyOK) Type() string  { return TypeTopologyOK }
func (Gossip) Type() string      { return TypeGossip }
func (GossipOK) Type() string    { return TypeGossipOK }
func (Echo) Type() string        { return TypeEcho }
func (EchoOK) Type() string      { return TypeEchoOK }
func (Generate) Type() string    { return TypeGenerate }
func (GenerateOK) Type() string  { return TypeGenerateOK }
func (Error) Type() string       { return TypeError }

func (Init) payload()        {}
func (InitOK) payload()      {}
func (Broadcast) payload()   {}
func (BroadcastOK) payload() {}
func (Read) payload()        {}
func (ReadOK) payload()      {}
func (Topology) payload()    {}
func (TopologyOK) payload()  {}
func (Gossip) payload()      {}
func (GossipOK) payload()    {}
func (Echo) payload()        {}
func (EchoOK) payload()      {}
func (Generate) payload()    {}
func (GenerateOK) payload()  {}
func (Error) payload()       {}

// kinds lists, per type, a constructor and the body fields that must be present.
var kinds = map[string]struct {
	newPayload func() Payload
	required   []string
}{
	TypeInit:        {func() Payload { return &Init{} }, []string{"node_id", "node_ids"}},
	TypeInitOK:      {func() Payload { return &InitOK{} }, nil},
	TypeBroadcast:   {func() Payload { return &Broadcast{} }, []string{"message"}},
	TypeBroadcastOK: {func() Payload { return &BroadcastOK{} }, nil},
	TypeRead:        {func() Payload { return &Read{} }, nil},
	TypeReadOK:      {func() Payload { return &ReadOK{} }, []string{"messages"}},
	TypeTopology:    {func() Payload { return &Topology{} }, []string{"topology"}},
	TypeTopologyOK:  {func() Payload { return &TopologyOK{} }, nil},
	TypeGossip:      {func() Payload { return &Gossip{} }, []string{"values"}},
	TypeGossipOK:    {func() Payload { return &GossipOK{} }, []string{"values"}},
	TypeEcho:        {func() Payload { return &Echo{} }, []string{"echo"}},
	TypeEchoOK:      {func() Payload { return &EchoOK{} }, []string{"echo"}},
	TypeGenerate:    {func() Payload { return &Generate{} }, nil},
	TypeGenerateOK:  {func() Payload { return &GenerateOK{} }, []string{"id"}},
	TypeError:       {func() Payload { return &Error{} }, []string{"code"}},
}

// Decode parses a body into its header and typed payload. The returned
// payload is a value, not a pointer, so handlers switch on e.g. Broadcast.
func Decode(body json.RawMessage) (Header, Payload, error) {
	var h Header
	if err := json.Unmarshal(body, &h); err != nil {
		return partialHeader(body), nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == "" {
		return h, nil, fmt.Errorf("%w: body has no type", ErrMalformed)
	}

	kind, ok := kinds[h.Type]
	if !ok {
		return h, nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}

	if len(kind.required) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return h, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for _, name := range kind.required {
			if raw, ok := fields[name]; !ok || string(raw) == "null" {
				return h, nil, fmt.Errorf("%w: %s is missing %q", ErrMalformed, h.Type, name)
			}
		}
	}

	p := kind.newPayload()
	if err := json.Unmarshal(body, p); err != nil {
		return h, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	return h, deref(p), nil
}

// partialHeader salvages what it can from a body whose header fields have the
// wrong types, so callers can still tell a reply from a request.
func partialHeader(body json.RawMessage) Header {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Header{}
	}

	var h Header
	_ = json.Unmarshal(fields["type"], &h.Type)
	var id int
	if raw, ok := fields["msg_id"]; ok && json.Unmarshal(raw, &id) == nil {
		h.MsgID = &id
	}
	if raw, ok := fields["in_reply_to"]; ok && string(raw) != "null" {
		var to int
		if json.Unmarshal(raw, &to) == nil {
			h.InReplyTo = &to
		} else {
			h.replied = true
		}
	}
	return h
}

// KnownType reports whether t names a message kind Decode understands.
func KnownType(t string) bool {
	_, ok := kinds[t]
	return ok
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Init:
		return *v
	case *InitOK:
		return *v
	case *Broadcast:
		return *v
	case *BroadcastOK:
		return *v
	case *Read:
		return *v
	case *ReadOK:
		return *v
	case *Topology:
		return *v
	case *TopologyOK:
		return *v
	case *Gossip:
		return *v
	case *GossipOK:
		return *v
	case *Echo:
		return *v
	case *EchoOK:
		return *v
	case *Generate:
		return *v
	case *GenerateOK:
		return *v
	case *Error:
		return *v
	}
	return p
}

// Encode flattens header and payload into one body object. The header's Type
// is taken from the payload.
func Encode(h Header, p Payload) (json.RawMessage, error) {
	h.Type = p.Type()

	fields := make(map[string]json.RawMessage)
	pb, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.Type, err)
	}
	if err := json.Unmarshal(pb, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.Type, err)
	}

	hb, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode %s header: %w", h.Type, err)
	}
	if err := json.Unmarshal(hb, &fields); err != nil {
		return nil, fmt.Errorf("encode %s header: %w", h.Type, err)
	}
	return json.Marshal(fields)
}

// New builds a message that starts an exchange.
func New(src, dest string, msgID int, p Payload) (Message, error) {
	body, err := Encode(Header{MsgID: &msgID}, p)
	if err != nil {
		return Message{}, err
	}
	return Message{Src: src, Dest: dest, Body: body}, nil
}

// Reply builds the answer to req, echoing its msg_id as in_reply_to.
func Reply(req Message, reqHeader Header, msgID int, p Payload) (Message, error) {
	body, err := Encode(Header{MsgID: &msgID, InReplyTo: reqHeader.MsgID}, p)
	if err != nil {
		return Message{}, err
	}
	return Message{Src: req.Dest, Dest: req.Src, Body: body}, nil
}
