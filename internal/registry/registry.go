/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package registry maps command ids to a deserializer and an ordered,
// self-pruning list of subscribers, shared across every receive path in a
// single server or client engine.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/internal/codec"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Deserializer turns a raw payload into an application-level value. A nil
// return with a non-nil error drops the frame silently (decode errors in
// the registry follow the same local-recovery policy as the framer).
type Deserializer func(payload []byte) (any, error)

// Message is what a Handler sees for one completed, dispatched frame.
type Message struct {
	Peer       string
	CommandID  uint16
	ResponseID uint32
	Payload    []byte // read-only view into the pooled buffer; do not retain
	Decoded    any
}

// Handler processes a dispatched message. Returning false unsubscribes the
// handler after this call (one-shot semantics).
type Handler func(msg Message) bool

type entry struct {
	deserializer Deserializer

	mu   sync.Mutex
	subs []Handler
}

// Registry is the command table (C6): id -> {deserializer, subscribers}.
type Registry struct {
	mu      sync.Mutex
	entries map[uint16]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[uint16]*entry)}
}

// AddCommand registers deserializer under each id. Registering a reserved
// id (above wire.UserCommandLimit) is a precondition failure. If an id is
// already registered, the existing entry (and its subscribers) is kept.
func (r *Registry) AddCommand(deserializer Deserializer, ids ...uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if wire.IsReserved(id) {
			return fmt.Errorf("register command %d: %w", id, wire.ErrReservedCommand)
		}
	}
	for _, id := range ids {
		if _, ok := r.entries[id]; ok {
			continue
		}
		r.entries[id] = &entry{deserializer: deserializer}
	}
	return nil
}

// RemoveCommands removes each id's entry. It reports whether any id was
// actually registered.
func (r *Registry) RemoveCommands(ids ...uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := r.entries[id]; ok {
			delete(r.entries, id)
			removed = true
		}
	}
	return removed
}

// AddDataReceived appends handler to id's subscriber list. It fails if id
// has no registered deserializer.
func (r *Registry) AddDataReceived(id uint16, handler Handler) error {
	e := r.lookup(id)
	if e == nil {
		return fmt.Errorf("subscribe to command %d: %w", id, wire.ErrUnregisteredCommand)
	}
	e.mu.Lock()
	e.subs = append(e.subs, handler)
	e.mu.Unlock()
	return nil
}

// RemoveDataReceived removes the first handler registered for id whose
// function code pointer matches handler's. Closures created from the same
// function literal share a code pointer, so they are not told apart.
func (r *Registry) RemoveDataReceived(id uint16, handler Handler) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	target := funcPtr(handler)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.subs {
		if funcPtr(h) == target {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Dispatch deserializes and delivers one decoded frame to every subscriber
// of its command id, newest subscriber first, compacting any that
// requested unsubscription once the pass completes. The frame's pooled
// payload buffer is returned to pool only after the last subscriber has
// run — never before, unlike the ordering bug this engine explicitly
// avoids (see DESIGN.md).
func (r *Registry) Dispatch(pool *bufpool.Pool, peer string, decoded *codec.Decoded) {
	defer pool.Return(decoded.Payload)

	e := r.lookup(decoded.CommandID)
	if e == nil {
		return
	}

	var value any
	if e.deserializer != nil {
		v, err := e.deserializer(decoded.Payload)
		if err != nil {
			return
		}
		value = v
	}

	e.mu.Lock()
	snapshot := append([]Handler(nil), e.subs...)
	e.mu.Unlock()
	if len(snapshot) == 0 {
		return
	}

	msg := Message{
		Peer:       peer,
		CommandID:  decoded.CommandID,
		ResponseID: decoded.ResponseID,
		Payload:    decoded.Payload,
		Decoded:    value,
	}

	unsubscribe := make(map[uintptr]bool)
	for i := len(snapshot) - 1; i >= 0; i-- {
		if !snapshot[i](msg) {
			unsubscribe[funcPtr(snapshot[i])] = true
		}
	}
	if len(unsubscribe) == 0 {
		return
	}

	e.mu.Lock()
	kept := e.subs[:0]
	for _, h := range e.subs {
		if unsubscribe[funcPtr(h)] {
			continue
		}
		kept = append(kept, h)
	}
	e.subs = kept
	e.mu.Unlock()
}

func (r *Registry) lookup(id uint16) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

func funcPtr(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}
