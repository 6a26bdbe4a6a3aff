// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/castdeck/castdeck/lib/mutation"
	"github.com/castdeck/castdeck/lib/wire"
)

// Peer receives pushes. Deliver must not block; implementations
// queue and return.
type Peer interface {
	PeerID() string
	Deliver(wire.Push)
}

// Hub fans pushes out to attached peers.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[string]Peer
}

// NewHub returns a hub with no peers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, peers: make(map[string]Peer)}
}

// Attach registers peer. Peer ids must be unique.
func (h *Hub) Attach(peer Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := peer.PeerID()
	if _, exists := h.peers[id]; exists {
		return fmt.Errorf("peer %q is already attached", id)
	}
	h.peers[id] = peer
	h.logger.Debug("peer attached", "peer", id, "peers", len(h.peers))
	return nil
}

// Detach removes the peer with the given id. Detaching an unknown id
// is a no-op.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.peers[id]; !exists {
		return
	}
	delete(h.peers, id)
	h.logger.Debug("peer detached", "peer", id, "peers", len(h.peers))
}

// Publish delivers a mutation batch to every peer except exclude.
// The canonical store calls it with its transaction lock held, so
// batches reach each peer in id order.
func (h *Hub) Publish(batch []mutation.Mutation, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, peer := range h.peers {
		if id == exclude {
			continue
		}
		peer.Deliver(wire.Push{Mutations: batch})
	}
}

// Broadcast delivers push to every peer.
func (h *Hub) Broadcast(push wire.Push) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, peer := range h.peers {
		peer.Deliver(push)
	}
}

// SendTo delivers push to one peer, reporting whether it is attached.
func (h *Hub) SendTo(id string, push wire.Push) bool {
	h.mu.RLock()
	peer, ok := h.peers[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	peer.Deliver(push)
	return true
}

// PeerIDs returns the attached peer ids, sorted.
func (h *Hub) PeerIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
