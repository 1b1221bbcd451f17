/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package clients is the server-side client table (C8): peer key to
// ClientState, held in one map guarded by one mutex.
package clients

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"gitlab.com/xerra/common/go-netframe/internal/framer"
	"gitlab.com/xerra/common/go-netframe/internal/reassembly"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// State is one connected peer's private data: its own framer and
// reassembly table, owned exclusively by it, plus whatever the caller's
// CreateFunc attached as User.
type State struct {
	ID      xid.ID
	PeerKey string
	Conn    net.Conn

	Framer     *framer.Framer
	Reassembly *reassembly.Table

	User any

	lastReceive      int64 // unix nanoseconds, atomic
	reportedResyncs  int64 // atomic, metrics bookkeeping only
}

// Touch records the time of the most recent successful receive from this
// peer.
func (s *State) Touch() {
	atomic.StoreInt64(&s.lastReceive, time.Now().UnixNano())
}

// LastReceive returns the last Touch time.
func (s *State) LastReceive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastReceive))
}

// ReportedResyncs and SetReportedResyncs let a metrics collector track how
// many of this peer's framer resyncs it has already counted, without
// double-reporting on every frame.
func (s *State) ReportedResyncs() int64 { return atomic.LoadInt64(&s.reportedResyncs) }

func (s *State) SetReportedResyncs(n int64) { atomic.StoreInt64(&s.reportedResyncs, n) }

// CreateFunc is the user hook invoked on CONNECT: create_client(peer) ->
// Option<ClientState>. Returning ok=false rejects the connection.
type CreateFunc func(peerKey string, conn net.Conn) (user any, ok bool)

// ConnectedFunc and DisconnectedFunc are the lifecycle events C8 raises.
type ConnectedFunc func(*State)
type DisconnectedFunc func(*State, wire.DisconnectReason)

// Table is the server's client table.
type Table struct {
	onConnected    ConnectedFunc
	onDisconnected DisconnectedFunc

	mu      sync.Mutex
	clients map[string]*State
}

// New returns an empty Table. Either callback may be nil.
func New(onConnected ConnectedFunc, onDisconnected DisconnectedFunc) *Table {
	return &Table{
		onConnected:    onConnected,
		onDisconnected: onDisconnected,
		clients:        make(map[string]*State),
	}
}

// Connect invokes create for peerKey; on acceptance it inserts the new
// State and raises on_connected strictly before returning, satisfying the
// ordering guarantee that on_connected precedes the first user-command
// dispatch for that peer.
func (t *Table) Connect(peerKey string, conn net.Conn, newFramer func() *framer.Framer, newReassembly func() *reassembly.Table, create CreateFunc) (*State, bool) {
	user, ok := create(peerKey, conn)
	if !ok {
		return nil, false
	}
	state := &State{
		ID:         xid.New(),
		PeerKey:    peerKey,
		Conn:       conn,
		Framer:     newFramer(),
		Reassembly: newReassembly(),
		User:       user,
	}
	state.Touch()

	t.mu.Lock()
	t.clients[peerKey] = state
	t.mu.Unlock()

	if t.onConnected != nil {
		t.onConnected(state)
	}
	return state, true
}

// Lookup returns the State for peerKey, if connected.
func (t *Table) Lookup(peerKey string) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.clients[peerKey]
	return s, ok
}

// Remove deletes peerKey's State (if present) and raises on_disconnected
// strictly after the removal, with reason. It is a no-op if the peer was
// already removed (e.g. concurrent socket error and graceful DISCONNECT
// racing — exactly one observes the removal).
func (t *Table) Remove(peerKey string, reason wire.DisconnectReason) {
	t.mu.Lock()
	state, ok := t.clients[peerKey]
	if ok {
		delete(t.clients, peerKey)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	state.Reassembly.DropPeer(peerKey)
	if t.onDisconnected != nil {
		t.onDisconnected(state, reason)
	}
}

// Len reports the number of connected clients.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// SendToAll snapshots the table under the lock, then lets send run against
// each client outside it, so a slow or blocking send never holds up
// concurrent Connect/Remove calls.
func (t *Table) SendToAll(send func(*State)) {
	t.mu.Lock()
	snapshot := make([]*State, 0, len(t.clients))
	for _, s := range t.clients {
		snapshot = append(snapshot, s)
	}
	t.mu.Unlock()

	for _, s := range snapshot {
		send(s)
	}
}
