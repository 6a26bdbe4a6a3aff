// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"
	"sync"

	"github.com/castdeck/castdeck/lib/mutation"
)

// testSchema has a counter module and a scene list, enough to exercise
// ordering and structural changes.
func testSchema() *Schema {
	schema := NewSchema()
	schema.Module("counter", map[string]any{"value": 0})
	schema.Module("scenes", map[string]any{"order": []any{}})

	schema.Reducer("SET_VALUE", func(tree Tree, payload any) error {
		value, err := Number(payload)
		if err != nil {
			return err
		}
		tree.Module("counter")["value"] = value
		return nil
	})
	schema.Reducer("ADD_SCENE", func(tree Tree, payload any) error {
		name, ok := payload.(string)
		if !ok {
			return fmt.Errorf("ADD_SCENE payload is %T, want string", payload)
		}
		module := tree.Module("scenes")
		order, _ := module["order"].([]any)
		module["order"] = append(order, name)
		return nil
	})
	return schema
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]mutation.Mutation
	exclude []string
}

func (p *recordingPublisher) Publish(batch []mutation.Mutation, exclude string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	p.exclude = append(p.exclude, exclude)
}

func (p *recordingPublisher) snapshot() ([][]mutation.Mutation, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]mutation.Mutation(nil), p.batches...), append([]string(nil), p.exclude...)
}

func batchIDs(batch []mutation.Mutation) []uint64 {
	ids := make([]uint64, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}
	return ids
}
