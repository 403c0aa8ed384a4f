// Package envelope encodes and decodes the JSON-array wire frames nostr
// clients and relays exchange: inbound EVENT, REQ, CLOSE, AUTH;
// outbound EVENT, OK, EOSE, CLOSED, NOTICE, AUTH.
package envelope

import (
	"encoding/json"
	"fmt"

	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
)

// Verb identifies the first element of a frame.
type Verb string

const (
	Event  Verb = "EVENT"
	Req    Verb = "REQ"
	Close  Verb = "CLOSE"
	Auth   Verb = "AUTH"
	Ok     Verb = "OK"
	Eose   Verb = "EOSE"
	Closed Verb = "CLOSED"
	Notice Verb = "NOTICE"
)

// PeekVerb peeks at the first element of a raw frame without decoding the
// rest, so the frontend can classify priority cheaply.
func PeekVerb(raw []byte) (Verb, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return "", fmt.Errorf("not a JSON array: %w", err)
	}
	if len(arr) == 0 {
		return "", fmt.Errorf("empty frame")
	}
	var v string
	if err := json.Unmarshal(arr[0], &v); err != nil {
		return "", fmt.Errorf("first element is not a string: %w", err)
	}
	return Verb(v), nil
}

// EventSubmission is the client->relay ["EVENT", <event>] frame.
type EventSubmission struct {
	Event *event.E
}

func DecodeEventSubmission(raw []byte) (*EventSubmission, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	if len(arr) != 2 {
		return nil, fmt.Errorf("EVENT frame must have 2 elements, got %d", len(arr))
	}
	ev := &event.E{}
	if err := json.Unmarshal(arr[1], ev); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}
	return &EventSubmission{Event: ev}, nil
}

// ReqSubmission is the client->relay ["REQ", <subId>, <filter>...] frame.
type ReqSubmission struct {
	SubID   string
	Filters filter.S
}

// MaxSubscriptions bounds the number of live subscriptions per
// connection.
const MaxSubscriptions = 300

func DecodeReqSubmission(raw []byte) (*ReqSubmission, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("REQ frame must have at least 2 elements")
	}
	var subID string
	if err := json.Unmarshal(arr[1], &subID); err != nil {
		return nil, fmt.Errorf("invalid subscription id: %w", err)
	}
	var filters filter.S
	for _, raw := range arr[2:] {
		f := &filter.F{}
		if err := json.Unmarshal(raw, f); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		if f.Limit != nil && *f.Limit > filter.MaxLimit {
			capped := filter.MaxLimit
			f.Limit = &capped
		}
		filters = append(filters, f)
	}
	return &ReqSubmission{SubID: subID, Filters: filters}, nil
}

// CloseSubmission is the client->relay ["CLOSE", <subId>] frame.
type CloseSubmission struct {
	SubID string
}

func DecodeCloseSubmission(raw []byte) (*CloseSubmission, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	if len(arr) != 2 {
		return nil, fmt.Errorf("CLOSE frame must have 2 elements, got %d", len(arr))
	}
	var subID string
	if err := json.Unmarshal(arr[1], &subID); err != nil {
		return nil, fmt.Errorf("invalid subscription id: %w", err)
	}
	if subID == "" {
		return nil, fmt.Errorf("CLOSE has no <id>")
	}
	return &CloseSubmission{SubID: subID}, nil
}

// AuthSubmission is the client->relay ["AUTH", <event>] frame.
type AuthSubmission struct {
	Event *event.E
}

func DecodeAuthSubmission(raw []byte) (*AuthSubmission, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	if len(arr) != 2 {
		return nil, fmt.Errorf("AUTH frame must have 2 elements, got %d", len(arr))
	}
	ev := &event.E{}
	if err := json.Unmarshal(arr[1], ev); err != nil {
		return nil, fmt.Errorf("invalid auth event: %w", err)
	}
	return &AuthSubmission{Event: ev}, nil
}

// EncodeEvent builds the relay->client ["EVENT", <subId>, <event>] frame.
func EncodeEvent(subID string, ev *event.E) ([]byte, error) {
	return json.Marshal([]any{Event, subID, ev})
}

// EncodeOK builds the relay->client ["OK", <id>, <ok>, <reason>] frame.
func EncodeOK(id string, ok bool, reason string) ([]byte, error) {
	return json.Marshal([]any{Ok, id, ok, reason})
}

// EncodeEOSE builds the relay->client ["EOSE", <subId>] frame.
func EncodeEOSE(subID string) ([]byte, error) {
	return json.Marshal([]any{Eose, subID})
}

// EncodeClosed builds the relay->client ["CLOSED", <subId>, <reason>]
// frame.
func EncodeClosed(subID, reason string) ([]byte, error) {
	return json.Marshal([]any{Closed, subID, reason})
}

// EncodeNotice builds the relay->client ["NOTICE", <message>] frame.
func EncodeNotice(message string) ([]byte, error) {
	return json.Marshal([]any{Notice, message})
}

// EncodeAuthChallenge builds the relay->client ["AUTH", <challenge>]
// frame.
func EncodeAuthChallenge(challenge string) ([]byte, error) {
	return json.Marshal([]any{Auth, challenge})
}
