package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrgossip/pkg/store"
)

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Payload
	}{
		{"init", `{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2"]}`, Init{NodeID: "n1", NodeIDs: []string{"n1", "n2"}}},
		{"broadcast", `{"type":"broadcast","msg_id":2,"message":42}`, Broadcast{Message: 42}},
		{"read", `{"type":"read","msg_id":3}`, Read{}},
		{"topology", `{"type":"topology","msg_id":4,"topology":{"n1":["n2"]}}`, Topology{Topology: map[string][]string{"n1": {"n2"}}}},
		{"gossip", `{"type":"gossip","msg_id":5,"values":[1,2]}`, Gossip{Values: []store.Value{1, 2}}},
		{"gossip_ok", `{"type":"gossip_ok","in_reply_to":5,"values":[1]}`, GossipOK{Values: []store.Value{1}}},
		{"generate", `{"type":"generate","msg_id":6}`, Generate{}},
		{"error", `{"type":"error","in_reply_to":6,"code":12,"text":"bad"}`, Error{Code: CodeMalformedRequest, Text: "bad"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, p, err := Decode(json.RawMessage(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.name, h.Type)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestDecodeHeader(t *testing.T) {
	h, _, err := Decode(json.RawMessage(`{"type":"gossip_ok","msg_id":9,"in_reply_to":4,"values":[]}`))
	require.NoError(t, err)
	require.NotNil(t, h.MsgID)
	assert.Equal(t, 9, *h.MsgID)
	assert.True(t, h.IsReply())
	assert.Equal(t, 4, *h.InReplyTo)

	h, _, err = Decode(json.RawMessage(`{"type":"read"}`))
	require.NoError(t, err)
	assert.Nil(t, h.MsgID)
	assert.False(t, h.IsReply())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"type":`, ErrMalformed},
		{"not an object", `42`, ErrMalformed},
		{"empty", ``, ErrMalformed},
		{"no type", `{"msg_id":1}`, ErrMalformed},
		{"missing message", `{"type":"broadcast","msg_id":1}`, ErrMalformed},
		{"null values", `{"type":"gossip","values":null}`, ErrMalformed},
		{"wrong field type", `{"type":"broadcast","message":"forty-two"}`, ErrMalformed},
		{"unknown type", `{"type":"cas","msg_id":1}`, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(json.RawMessage(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEncodeFlattensBody(t *testing.T) {
	id, to := 7, 3
	body, err := Encode(Header{MsgID: &id, InReplyTo: &to}, ReadOK{Messages: []store.Value{1, 2}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"read_ok","msg_id":7,"in_reply_to":3,"messages":[1,2]}`, string(body))
}

func TestEncodeEmptyPayload(t *testing.T) {
	id := 1
	body, err := Encode(Header{MsgID: &id}, BroadcastOK{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"broadcast_ok","msg_id":1}`, string(body))
}

func TestReplySwapsRoute(t *testing.T) {
	req := Message{Src: "c1", Dest: "n1", Body: json.RawMessage(`{"type":"echo","msg_id":12,"echo":"hi"}`)}
	h, p, err := Decode(req.Body)
	require.NoError(t, err)

	reply, err := Reply(req, h, 100, EchoOK{Echo: p.(Echo).Echo})
	require.NoError(t, err)

	assert.Equal(t, "n1", reply.Src)
	assert.Equal(t, "c1", reply.Dest)
	assert.JSONEq(t, `{"type":"echo_ok","msg_id":100,"in_reply_to":12,"echo":"hi"}`, string(reply.Body))
}

func TestNewMessageRoundTripsThroughDecode(t *testing.T) {
	msg, err := New("n1", "n2", 5, Gossip{Values: []store.Value{4, 8}})
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"src":"n1","dest":"n2","body":{"type":"gossip","msg_id":5,"values":[4,8]}}`, string(raw))

	_, p, err := Decode(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, Gossip{Values: []store.Value{4, 8}}, p)
}

func TestAsRPCError(t *testing.T) {
	assert.Equal(t, CodeNotSupported, AsRPCError(fmt.Errorf("x: %w", ErrUnknownType)).Code)
	assert.Equal(t, CodeMalformedRequest, AsRPCError(fmt.Errorf("x: %w", ErrMalformed)).Code)
	assert.Equal(t, CodeTemporarilyUnavailable, AsRPCError(NewRPCError(CodeTemporarilyUnavailable, "later")).Code)
	assert.Equal(t, CodeCrash, AsRPCError(errors.New("boom")).Code)

	e := NewRPCError(CodeMalformedRequest, "no message")
	assert.Equal(t, "malformed-request: no message", e.Error())
	assert.Equal(t, Error{Code: 12, Text: "no message"}, e.Payload())
}

func TestDecodeKeepsReplyMarkerOnBadHeader(t *testing.T) {
	h, _, err := Decode(json.RawMessage(`{"type":"gossip_ok","in_reply_to":"x","values":[1]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, TypeGossipOK, h.Type)
	assert.True(t, h.IsReply())

	h, _, err = Decode(json.RawMessage(`{"type":"broadcast","msg_id":"seven","in_reply_to":3}`))
	require.Error(t, err)
	require.NotNil(t, h.InReplyTo)
	assert.Equal(t, 3, *h.InReplyTo)

	h, _, err = Decode(json.RawMessage(`{"type":"broadcast","msg_id":"seven","message":1}`))
	require.Error(t, err)
	assert.Equal(t, TypeBroadcast, h.Type)
	assert.False(t, h.IsReply())
}

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(TypeBroadcast))
	assert.True(t, KnownType(TypeError))
	assert.False(t, KnownType("frobnicate"))
	assert.False(t, KnownType(""))
}
