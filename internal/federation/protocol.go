// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package federation implements rhizomedb-federation-v1 (spec.md §4.12,
// §6): the wire protocol, the per-link state machine, handshake, initial
// sync, ongoing push/pull/bidirectional sync, trust policy, flow
// control, and reconnect-with-backoff.
package federation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rhizomedb/rhizomedb/internal/delta"
)

// ProtocolVersion is this build's rhizomedb-federation-v1 version string.
const ProtocolVersion = "rhizomedb-federation-v1"

// MessageType is the wire protocol's type discriminant.
type MessageType string

const (
	MsgHello        MessageType = "hello"
	MsgHelloAck     MessageType = "hello_ack"
	MsgDelta        MessageType = "delta"
	MsgDeltaAck     MessageType = "delta_ack"
	MsgDeltaNack    MessageType = "delta_nack"
	MsgSyncRequest  MessageType = "sync_request"
	MsgSyncStart    MessageType = "sync_start"
	MsgSyncBatch    MessageType = "sync_batch"
	MsgSyncComplete MessageType = "sync_complete"
	MsgPause        MessageType = "pause"
	MsgResume       MessageType = "resume"
	MsgPing         MessageType = "ping"
	MsgPong         MessageType = "pong"
	MsgError        MessageType = "error"
)

// ErrorCode enumerates the stable error kinds a MsgError may carry that
// are federation-protocol-relevant (spec.md §7).
type ErrorCode string

const (
	ErrCodeProtocolMismatch ErrorCode = "PROTOCOL_MISMATCH"
	ErrCodeConnectionLost   ErrorCode = "CONNECTION_LOST"
)

// Message is the envelope every wire frame decodes into. Common fields
// (type, timestamp) are always present; the payload fields relevant to
// Type are populated, the rest left zero.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`

	// hello / hello_ack
	SystemID string `json:"system_id,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	LinkID   string `json:"link_id,omitempty"`

	// delta / delta_ack / delta_nack
	Delta   *delta.Delta `json:"delta,omitempty"`
	DeltaID string       `json:"delta_id,omitempty"`
	Reason  string       `json:"reason,omitempty"`

	// sync_request
	Filter         *SyncFilter `json:"filter,omitempty"`
	FromTimestamp  *int64      `json:"from_timestamp,omitempty"`

	// sync_start
	TotalDeltas int `json:"total_deltas,omitempty"`
	BatchSize   int `json:"batch_size,omitempty"`

	// sync_batch
	BatchNumber int           `json:"batch_number,omitempty"`
	IsLastBatch bool          `json:"is_last_batch,omitempty"`
	Deltas      []delta.Delta `json:"deltas,omitempty"`

	// sync_complete
	DeltasProcessed int `json:"deltas_processed,omitempty"`

	// error
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Fatal   bool       `json:"fatal,omitempty"`
}

// SyncFilter is the optional filter narrowing a sync_request, mirroring
// the query engine's filterable fields in wire-safe form.
type SyncFilter struct {
	Authors        []string `json:"authors,omitempty"`
	Systems        []string `json:"systems,omitempty"`
	TargetIDs      []string `json:"target_ids,omitempty"`
	TargetContexts []string `json:"target_contexts,omitempty"`
}

// ErrMissingType is returned by Decode when a frame lacks "type".
var ErrMissingType = errors.New("federation: message missing type")

// ErrMissingTimestamp is returned by Decode when a frame lacks
// "timestamp".
var ErrMissingTimestamp = errors.New("federation: message missing timestamp")

// Encode serializes msg to its wire JSON form.
func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(msg)
}

// Decode parses a wire frame, rejecting one missing type or timestamp
// (spec.md §4.12: "The codec rejects messages missing type or
// timestamp").
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type      *MessageType `json:"type"`
		Timestamp *int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{}, fmt.Errorf("federation: decoding message: %w", err)
	}
	if probe.Type == nil || *probe.Type == "" {
		return Message{}, ErrMissingType
	}
	if probe.Timestamp == nil {
		return Message{}, ErrMissingTimestamp
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("federation: decoding message: %w", err)
	}
	return msg, nil
}
