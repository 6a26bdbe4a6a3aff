// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castdeck/castdeck/lib/mutation"
)

func batch(id uint64) Push {
	return Push{Mutations: []mutation.Mutation{{ID: id, Type: "SET_VALUE"}}}
}

func drain(t *testing.T, q *Queue) []Push {
	t.Helper()
	var pushes []Push
	for q.Len() > 0 {
		p, err := q.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		pushes = append(pushes, p)
	}
	return pushes
}

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(10)
	q.Put(batch(1))
	q.Put(Push{Event: &Event{ResourceID: "p1"}})
	q.Put(batch(2))

	got := drain(t, q)
	if len(got) != 3 || got[0].Mutations[0].ID != 1 || got[1].Event == nil || got[2].Mutations[0].ID != 2 {
		t.Fatalf("drained %+v", got)
	}
}

func TestQueueOverflowCoalescesIntoResync(t *testing.T) {
	q := NewQueue(2)
	q.Put(batch(1))
	q.Put(Push{Event: &Event{ResourceID: "p1"}})
	q.Put(batch(2))
	if kept := q.Put(batch(3)); kept {
		t.Fatal("Put past the batch limit reported kept")
	}
	// Further batches are covered by the pending resync.
	q.Put(batch(4))

	got := drain(t, q)
	if len(got) != 2 {
		t.Fatalf("drained %d pushes, want event + resync: %+v", len(got), got)
	}
	if got[0].Event == nil || got[0].Event.ResourceID != "p1" {
		t.Errorf("first push = %+v, want the preserved event", got[0])
	}
	if !got[1].Resync {
		t.Errorf("second push = %+v, want resync", got[1])
	}

	// After the resync is consumed, batches flow again.
	q.Put(batch(5))
	got = drain(t, q)
	if len(got) != 1 || !got[0].IsBatch() {
		t.Errorf("after resync drained %+v, want one batch", got)
	}
}

func TestQueueNextHonorsContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond) //nolint:realclock bounded wait on an empty queue
	defer cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next on empty queue = %v, want deadline exceeded", err)
	}
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	q := NewQueue(1)
	q.Put(batch(1))
	q.Close()
	q.Put(batch(2))

	if p, err := q.Next(context.Background()); err != nil || !p.IsBatch() {
		t.Fatalf("Next after close = %+v, %v; want queued batch", p, err)
	}
	if _, err := q.Next(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Next on closed empty queue = %v, want ErrQueueClosed", err)
	}
}
