// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/castdeck/castdeck/lib/codec"
)

// Digest is the BLAKE3 hash of a tree's deterministic CBOR encoding.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest parses the hex form produced by Digest.String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(d) {
		return d, fmt.Errorf("parsing digest: got %d bytes, want %d", len(decoded), len(d))
	}
	copy(d[:], decoded)
	return d, nil
}

// DigestTree hashes tree. Map keys are sorted by the encoder, so equal
// trees hash equally regardless of insertion order.
func DigestTree(tree Tree) (Digest, error) {
	data, err := codec.Marshal(tree)
	if err != nil {
		return Digest{}, fmt.Errorf("encoding tree: %w", err)
	}
	return blake3.Sum256(data), nil
}

// Snapshot is the full state tree as of LastID, encoded for transfer
// to a replica that cannot catch up from the mutation log.
type Snapshot struct {
	LastID      uint64      `json:"lastId"`
	Compression Compression `json:"compression"`
	Size        int         `json:"size"`
	Data        []byte      `json:"data"`
	Digest      string      `json:"digest"`
}

// EncodeSnapshot encodes tree as CBOR, compresses it, and records the
// digest of the uncompressed encoding.
func EncodeSnapshot(tree Tree, lastID uint64, algorithm Compression) (*Snapshot, error) {
	encoded, err := codec.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	data, used, err := compress(encoded, algorithm)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		LastID:      lastID,
		Compression: used,
		Size:        len(encoded),
		Data:        data,
		Digest:      Digest(blake3.Sum256(encoded)).String(),
	}, nil
}

// Encoded returns the uncompressed CBOR encoding after verifying it
// against the recorded digest.
func (s *Snapshot) Encoded() ([]byte, error) {
	encoded, err := decompress(s.Data, s.Compression, s.Size)
	if err != nil {
		return nil, err
	}
	if got := Digest(blake3.Sum256(encoded)).String(); got != s.Digest {
		return nil, fmt.Errorf("snapshot digest mismatch: computed %s, recorded %s", got, s.Digest)
	}
	return encoded, nil
}

// Tree decodes the snapshot into a state tree.
func (s *Snapshot) Tree() (Tree, error) {
	encoded, err := s.Encoded()
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := codec.Unmarshal(encoded, &tree); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if tree == nil {
		tree = make(map[string]any)
	}
	return Tree(tree), nil
}
