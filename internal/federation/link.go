// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package federation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/pkg/logging"
)

// State is a federation link's state machine position (spec.md §4.12).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Syncing
	Paused
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Syncing:
		return "syncing"
	case Paused:
		return "paused"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Mode gates the direction of ongoing sync for a link.
type Mode string

const (
	ModePush          Mode = "push"
	ModePull          Mode = "pull"
	ModeBidirectional Mode = "bidirectional"
)

// InitialSync selects what a newly-connected link requests on handshake.
type InitialSync string

const (
	InitialSyncFull          InitialSync = "full"
	InitialSyncFromTimestamp InitialSync = "from_timestamp"
	InitialSyncNone          InitialSync = "none"
)

// Reconnect configures the backoff policy for unexpected disconnects.
type Reconnect struct {
	Enabled          bool
	MaxAttempts      int // 0 means infinite
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffMultiplier float64
}

// NextDelay returns the delay before reconnect attempt number attempt
// (0-based), per spec.md: min(initial_delay * multiplier^attempt, max_delay).
func (r Reconnect) NextDelay(attempt int) time.Duration {
	mult := math.Pow(r.BackoffMultiplier, float64(attempt))
	delay := time.Duration(float64(r.InitialDelay) * mult)
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// Config configures one federation link.
type Config struct {
	SystemID          string
	Mode              Mode
	InitialSync       InitialSync
	SyncFromTimestamp *int64
	PushFilter        *SyncFilter
	PullFilter        *SyncFilter
	TrustPolicy       TrustPolicy
	Reconnect         Reconnect

	HandshakeTimeout time.Duration // default 10s
	ConnectTimeout   time.Duration // default 10s
	HeartbeatTimeout time.Duration // default 30s
}

// DefaultConfig returns a Config with spec.md's default timeouts.
func DefaultConfig(systemID string, mode Mode) Config {
	return Config{
		SystemID: systemID, Mode: mode, InitialSync: InitialSyncNone,
		HandshakeTimeout: 10 * time.Second,
		ConnectTimeout:   10 * time.Second,
		HeartbeatTimeout: 30 * time.Second,
	}
}

// Transport is the duplex message channel a Link drives. Framing and TLS
// are the host's responsibility (spec.md §4.12); Transport deals only in
// decoded Messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// DeltaStore is the subset of storage a Link needs to answer
// sync_request and to persist received deltas.
type DeltaStore interface {
	Put(ctx context.Context, d delta.Delta) error
	Scan(ctx context.Context, filter *SyncFilter, fromTimestamp *int64) ([]delta.Delta, error)
}

// ErrProtocolMismatch is returned when a peer's protocol version does
// not match ProtocolVersion; fatal on the link.
var ErrProtocolMismatch = errors.New("federation: protocol version mismatch")

// ErrLinkNotConnected is returned by operations that require Connected
// or Syncing state.
var ErrLinkNotConnected = errors.New("federation: link not connected")

// Link drives one federation peer connection through its state machine.
type Link struct {
	mu    sync.RWMutex
	state State

	cfg       Config
	transport Transport
	store     DeltaStore
	log       *logging.Logger
	clock     func() int64

	linkID  string
	attempt int

	pingLimiter *rate.Limiter
}

// NewLink returns a Link in the Disconnected state.
func NewLink(cfg Config, transport Transport, store DeltaStore, log *logging.Logger) *Link {
	return &Link{
		state: Disconnected, cfg: cfg, transport: transport, store: store, log: log,
		clock:       func() int64 { return time.Now().UnixMilli() },
		pingLimiter: rate.NewLimiter(rate.Every(cfg.HeartbeatTimeout), 1),
	}
}

// State returns the link's current state.
func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Connect performs the handshake: send hello, await hello_ack, validate
// protocol version. On success the link moves to Connected and, per
// cfg.InitialSync, performs initial sync before returning.
func (l *Link) Connect(ctx context.Context) error {
	l.setState(Connecting)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	defer cancel()

	hello := Message{Type: MsgHello, Timestamp: l.now(), SystemID: l.cfg.SystemID, Protocol: ProtocolVersion}
	if err := l.transport.Send(ctx, hello); err != nil {
		l.setState(Error)
		return fmt.Errorf("federation: sending hello: %w", err)
	}

	resp, err := l.transport.Receive(ctx)
	if err != nil {
		l.setState(Error)
		return fmt.Errorf("federation: awaiting hello_ack: %w", err)
	}

	if resp.Type == MsgError {
		l.setState(Error)
		return fmt.Errorf("federation: peer error %s: %s", resp.Code, resp.Message)
	}
	if resp.Type != MsgHelloAck {
		l.setState(Error)
		return fmt.Errorf("federation: expected hello_ack, got %s", resp.Type)
	}
	if resp.Protocol != ProtocolVersion {
		_ = l.transport.Send(ctx, Message{
			Type: MsgError, Timestamp: l.now(), Code: ErrCodeProtocolMismatch,
			Message: fmt.Sprintf("want %s, got %s", ProtocolVersion, resp.Protocol), Fatal: true,
		})
		l.setState(Error)
		return ErrProtocolMismatch
	}

	l.mu.Lock()
	l.linkID = resp.LinkID
	l.attempt = 0
	l.mu.Unlock()

	l.setState(Connected)

	if l.cfg.InitialSync != InitialSyncNone {
		l.setState(Syncing)
		if err := l.runInitialSync(ctx); err != nil {
			l.setState(Error)
			return err
		}
		l.setState(Connected)
	}

	return nil
}

// Accept performs the server side of the handshake: await hello, reply
// hello_ack (or fatal PROTOCOL_MISMATCH error and close).
func (l *Link) Accept(ctx context.Context, linkID string) error {
	l.setState(Connecting)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	defer cancel()

	req, err := l.transport.Receive(ctx)
	if err != nil {
		l.setState(Error)
		return fmt.Errorf("federation: awaiting hello: %w", err)
	}
	if req.Type != MsgHello {
		l.setState(Error)
		return fmt.Errorf("federation: expected hello, got %s", req.Type)
	}

	if req.Protocol != ProtocolVersion {
		_ = l.transport.Send(ctx, Message{
			Type: MsgError, Timestamp: l.now(), Code: ErrCodeProtocolMismatch,
			Message: fmt.Sprintf("want %s, got %s", ProtocolVersion, req.Protocol), Fatal: true,
		})
		_ = l.transport.Close()
		l.setState(Error)
		return ErrProtocolMismatch
	}

	l.mu.Lock()
	l.linkID = linkID
	l.mu.Unlock()

	ack := Message{Type: MsgHelloAck, Timestamp: l.now(), SystemID: l.cfg.SystemID, Protocol: ProtocolVersion, LinkID: linkID}
	if err := l.transport.Send(ctx, ack); err != nil {
		l.setState(Error)
		return fmt.Errorf("federation: sending hello_ack: %w", err)
	}

	l.setState(Connected)
	return nil
}

func (l *Link) runInitialSync(ctx context.Context) error {
	var fromTs *int64
	if l.cfg.InitialSync == InitialSyncFromTimestamp {
		fromTs = l.cfg.SyncFromTimestamp
	}

	req := Message{Type: MsgSyncRequest, Timestamp: l.now(), Filter: l.cfg.PullFilter, FromTimestamp: fromTs}
	if err := l.transport.Send(ctx, req); err != nil {
		return fmt.Errorf("federation: sending sync_request: %w", err)
	}

	start, err := l.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("federation: awaiting sync_start: %w", err)
	}
	if start.Type != MsgSyncStart {
		return fmt.Errorf("federation: expected sync_start, got %s", start.Type)
	}

	processed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := l.transport.Receive(ctx)
		if err != nil {
			return fmt.Errorf("federation: awaiting sync_batch: %w", err)
		}
		if batch.Type != MsgSyncBatch {
			return fmt.Errorf("federation: expected sync_batch, got %s", batch.Type)
		}
		for _, d := range batch.Deltas {
			if l.cfg.TrustPolicy.Verify(d) {
				if err := l.store.Put(ctx, d); err != nil {
					return fmt.Errorf("federation: persisting synced delta %q: %w", d.ID, err)
				}
				processed++
			}
		}
		if batch.IsLastBatch {
			break
		}
	}

	complete, err := l.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("federation: awaiting sync_complete: %w", err)
	}
	if complete.Type != MsgSyncComplete {
		return fmt.Errorf("federation: expected sync_complete, got %s", complete.Type)
	}

	return nil
}

// ServeSyncRequest answers a sync_request as the server side: scans
// store for matching deltas, sorts ascending by timestamp, and streams
// sync_start / N sync_batch / sync_complete.
func (l *Link) ServeSyncRequest(ctx context.Context, req Message, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	deltas, err := l.store.Scan(ctx, req.Filter, req.FromTimestamp)
	if err != nil {
		return fmt.Errorf("federation: scanning for sync_request: %w", err)
	}
	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].Timestamp < deltas[j].Timestamp })

	if err := l.transport.Send(ctx, Message{
		Type: MsgSyncStart, Timestamp: l.now(), TotalDeltas: len(deltas), BatchSize: batchSize,
	}); err != nil {
		return fmt.Errorf("federation: sending sync_start: %w", err)
	}

	batchNum := 0
	for i := 0; i < len(deltas); i += batchSize {
		end := i + batchSize
		if end > len(deltas) {
			end = len(deltas)
		}
		isLast := end == len(deltas)
		if err := l.transport.Send(ctx, Message{
			Type: MsgSyncBatch, Timestamp: l.now(), BatchNumber: batchNum,
			IsLastBatch: isLast, Deltas: deltas[i:end],
		}); err != nil {
			return fmt.Errorf("federation: sending sync_batch %d: %w", batchNum, err)
		}
		batchNum++
	}

	return l.transport.Send(ctx, Message{
		Type: MsgSyncComplete, Timestamp: l.now(), DeltasProcessed: len(deltas),
	})
}

// OfferDelta sends d to the peer if cfg.Mode permits outbound push,
// awaiting delta_ack/delta_nack.
func (l *Link) OfferDelta(ctx context.Context, d delta.Delta) error {
	if l.cfg.Mode != ModePush && l.cfg.Mode != ModeBidirectional {
		return nil
	}
	if l.cfg.PushFilter != nil && !matchesSyncFilter(*l.cfg.PushFilter, d) {
		return nil
	}
	if l.State() != Connected && l.State() != Syncing {
		return ErrLinkNotConnected
	}

	if err := l.transport.Send(ctx, Message{Type: MsgDelta, Timestamp: l.now(), Delta: &d}); err != nil {
		return fmt.Errorf("federation: sending delta %q: %w", d.ID, err)
	}

	resp, err := l.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("federation: awaiting delta_ack/nack for %q: %w", d.ID, err)
	}
	if resp.Type == MsgDeltaNack {
		return fmt.Errorf("federation: delta %q rejected: %s", d.ID, resp.Reason)
	}
	if resp.Type != MsgDeltaAck {
		return fmt.Errorf("federation: expected delta_ack, got %s", resp.Type)
	}
	return nil
}

// HandleIncoming processes a received delta message: validates against
// the trust policy, and on accept persists it and replies delta_ack; on
// reject replies delta_nack with a reason and drops the delta.
func (l *Link) HandleIncoming(ctx context.Context, msg Message) error {
	if msg.Type != MsgDelta || msg.Delta == nil {
		return fmt.Errorf("federation: HandleIncoming requires a delta message")
	}
	if l.cfg.Mode != ModePull && l.cfg.Mode != ModeBidirectional {
		return l.transport.Send(ctx, Message{Type: MsgDeltaNack, Timestamp: l.now(), DeltaID: msg.Delta.ID, Reason: "link mode does not accept inbound deltas"})
	}

	if !l.cfg.TrustPolicy.Verify(*msg.Delta) {
		return l.transport.Send(ctx, Message{Type: MsgDeltaNack, Timestamp: l.now(), DeltaID: msg.Delta.ID, Reason: "trust policy rejected delta"})
	}

	if err := l.store.Put(ctx, *msg.Delta); err != nil {
		return fmt.Errorf("federation: persisting delta %q: %w", msg.Delta.ID, err)
	}
	return l.transport.Send(ctx, Message{Type: MsgDeltaAck, Timestamp: l.now(), DeltaID: msg.Delta.ID})
}

// Pause moves the link to Paused and sends pause to the peer. While the
// link is paused, OfferDelta refuses deltas with ErrLinkNotConnected;
// nothing is queued.
func (l *Link) Pause(ctx context.Context) error {
	l.setState(Paused)
	return l.transport.Send(ctx, Message{Type: MsgPause, Timestamp: l.now()})
}

// Resume moves the link back to Connected and sends resume to the peer.
// Deltas refused while the link was paused are not replayed.
func (l *Link) Resume(ctx context.Context) error {
	l.setState(Connected)
	return l.transport.Send(ctx, Message{Type: MsgResume, Timestamp: l.now()})
}

// Heartbeat sends a ping, rate-limited to at most one per
// cfg.HeartbeatTimeout interval, and awaits pong within the same
// timeout; a missed pong closes the link.
func (l *Link) Heartbeat(ctx context.Context) error {
	if !l.pingLimiter.Allow() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.HeartbeatTimeout)
	defer cancel()

	if err := l.transport.Send(ctx, Message{Type: MsgPing, Timestamp: l.now()}); err != nil {
		return l.disconnect(fmt.Errorf("federation: sending ping: %w", err))
	}

	resp, err := l.transport.Receive(ctx)
	if err != nil {
		return l.disconnect(fmt.Errorf("federation: heartbeat timeout: %w", err))
	}
	if resp.Type != MsgPong {
		return l.disconnect(fmt.Errorf("federation: expected pong, got %s", resp.Type))
	}
	return nil
}

func (l *Link) disconnect(cause error) error {
	_ = l.transport.Close()
	l.setState(Disconnected)
	if l.log != nil {
		l.log.Warn("federation link disconnected", "link_id", l.linkID, "error", cause)
	}
	return cause
}

// ShouldReconnect reports whether the link should attempt a reconnect
// and, if so, the delay to wait first. Call after an unexpected
// disconnect from Connected/Syncing/Paused.
func (l *Link) ShouldReconnect() (time.Duration, bool) {
	if !l.cfg.Reconnect.Enabled {
		return 0, false
	}
	if l.cfg.Reconnect.MaxAttempts > 0 && l.attempt >= l.cfg.Reconnect.MaxAttempts {
		return 0, false
	}
	delay := l.cfg.Reconnect.NextDelay(l.attempt)
	l.attempt++
	return delay, true
}

func (l *Link) now() int64 {
	if l.clock != nil {
		return l.clock()
	}
	return 0
}

func matchesSyncFilter(f SyncFilter, d delta.Delta) bool {
	if len(f.Authors) > 0 && !containsStr(f.Authors, d.Author) {
		return false
	}
	if len(f.Systems) > 0 && !containsStr(f.Systems, d.System) {
		return false
	}
	if len(f.TargetIDs) > 0 || len(f.TargetContexts) > 0 {
		matched := false
		for _, p := range d.Pointers {
			if len(f.TargetIDs) > 0 && p.Target.IsEntity() && containsStr(f.TargetIDs, p.Target.EntityID) {
				matched = true
				break
			}
			if len(f.TargetContexts) > 0 && p.TargetContext != nil && containsStr(f.TargetContexts, *p.TargetContext) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
