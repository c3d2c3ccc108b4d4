// Package protocol defines the JSON envelope exchanged with the test harness
// and the payload carried for every message kind the node understands.
//
// An envelope is {"src", "dest", "body"}; the body is a flat object holding
// "type", an optional "msg_id", an optional "in_reply_to" and the fields of
// one payload. Decode maps "type" onto exactly one Payload implementation and
// checks that the fields that kind requires are present, so handlers can
// switch on the concrete payload type and never inspect raw JSON.
package protocol
