// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"

	"github.com/castdeck/castdeck/lib/mutation"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
)

// replicationService exposes the mutation log and snapshots so a
// replica that detected a gap can repair itself.
type replicationService struct {
	store       *state.Canonical
	hub         *Hub
	compression state.Compression
}

func (s *replicationService) ResourceID() resource.ID {
	return resource.Singleton(state.ReplicationServiceName)
}

func (s *replicationService) Methods() resource.Methods {
	return resource.Methods{
		"since":    s.since,
		"snapshot": s.snapshot,
		"digest":   s.digest,
		"status":   s.status,
	}
}

func (s *replicationService) since(_ context.Context, args resource.Args) (any, error) {
	sinceID, err := args.Float(0)
	if err != nil {
		return nil, err
	}
	if sinceID < 0 {
		return nil, resource.ErrInvalidArgument
	}
	mutations, err := s.store.Since(uint64(sinceID))
	if errors.Is(err, mutation.ErrRetentionMiss) {
		return state.SinceResult{Mutations: []mutation.Mutation{}, Retained: false, LastID: s.store.LastID()}, nil
	}
	if err != nil {
		return nil, err
	}
	return state.SinceResult{Mutations: mutations, Retained: true, LastID: s.store.LastID()}, nil
}

func (s *replicationService) snapshot(context.Context, resource.Args) (any, error) {
	return s.store.Snapshot(s.compression)
}

func (s *replicationService) digest(context.Context, resource.Args) (any, error) {
	digest, lastID, err := s.store.Digest()
	if err != nil {
		return nil, err
	}
	return state.DigestResult{Digest: digest.String(), LastID: lastID}, nil
}

func (s *replicationService) status(context.Context, resource.Args) (any, error) {
	return state.StatusResult{
		LastID:         s.store.LastID(),
		OldestRetained: s.store.OldestRetained(),
		Peers:          s.hub.PeerIDs(),
	}, nil
}
