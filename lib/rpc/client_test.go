// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package rpc_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/rpc"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/testutil"
	"github.com/castdeck/castdeck/lib/wire"
	"github.com/castdeck/castdeck/lib/worker"
)

// notesService keeps a list of strings in state.
type notesService struct {
	store *state.Canonical
	added *resource.Stream
}

func (s *notesService) ResourceID() resource.ID { return resource.Singleton("NotesService") }

func (s *notesService) items() []any {
	value, _ := s.store.Get("notes", "items")
	items, _ := value.([]any)
	return items
}

func (s *notesService) add(ctx context.Context, text string) (int, error) {
	if _, err := s.store.Commit(ctx, "ADD_NOTE", text); err != nil {
		return 0, err
	}
	s.store.AfterCommit(func() { s.added.Emit(text) })
	return len(s.items()), nil
}

func (s *notesService) Methods() resource.Methods {
	return resource.Methods{
		"add": func(ctx context.Context, args resource.Args) (any, error) {
			text, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return s.add(ctx, text)
		},
		"list": func(context.Context, resource.Args) (any, error) {
			return s.items(), nil
		},
		"note": func(_ context.Context, args resource.Args) (any, error) {
			index, err := args.Int(0)
			if err != nil {
				return nil, err
			}
			return &note{service: s, index: index}, nil
		},
		"describe": func(_ context.Context, args resource.Args) (any, error) {
			target, err := args.Target(0)
			if err != nil {
				return nil, err
			}
			n, ok := target.(*note)
			if !ok {
				return nil, fmt.Errorf("%w: want a Note", resource.ErrInvalidArgument)
			}
			return "note: " + n.text(), nil
		},
		"later": func(_ context.Context, args resource.Args) (any, error) {
			text, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return resource.Async(func() (any, error) {
				return s.add(context.Background(), text)
			}), nil
		},
		"added": func(context.Context, resource.Args) (any, error) {
			return s.added, nil
		},
		"fail": func(context.Context, resource.Args) (any, error) {
			return nil, errors.New("device busy")
		},
	}
}

type note struct {
	service *notesService
	index   int
}

func (n *note) ResourceID() resource.ID { return resource.MustHelper("Note", n.index) }

func (n *note) text() string {
	items := n.service.items()
	if n.index < 0 || n.index >= len(items) {
		return ""
	}
	text, _ := items[n.index].(string)
	return text
}

func (n *note) Methods() resource.Methods {
	return resource.Methods{
		"text": func(context.Context, resource.Args) (any, error) { return n.text(), nil },
	}
}

func (n *note) ResourceFields() map[string]any {
	return map[string]any{"index": n.index, "text": n.text()}
}

func notesSchema() *state.Schema {
	schema := state.NewSchema()
	schema.Module("notes", map[string]any{"items": []any{}})
	schema.Reducer("ADD_NOTE", func(tree state.Tree, payload any) error {
		text, ok := payload.(string)
		if !ok {
			return fmt.Errorf("ADD_NOTE payload is %T", payload)
		}
		module := tree.Module("notes")
		items, _ := module["items"].([]any)
		module["items"] = append(items, text)
		return nil
	})
	return schema
}

func newNotesWorker(t *testing.T, logSize int) *worker.Worker {
	t.Helper()
	w := worker.New(worker.Options{Schema: notesSchema(), LogSize: logSize})
	w.Container().RegisterSingleton("NotesService", func(*resource.Container) (resource.Target, error) {
		return &notesService{store: w.Store(), added: resource.NewStream()}, nil
	})
	w.Container().RegisterHelper("Note", func(c *resource.Container, args resource.Args) (resource.Target, error) {
		index, err := args.Int(0)
		if err != nil {
			return nil, err
		}
		target, err := c.Resolve(context.Background(), resource.Singleton("NotesService"))
		if err != nil {
			return nil, err
		}
		return &note{service: target.(*notesService), index: index}, nil
	})
	t.Cleanup(w.Close)
	return w
}

func newWindowClient(t *testing.T, w *worker.Worker, id string, options rpc.Options) *rpc.Client {
	t.Helper()
	window, err := w.Connect(id)
	if err != nil {
		t.Fatalf("Connect(%s): %v", id, err)
	}
	if options.Replica == nil {
		options.Replica = state.NewReplica(notesSchema(), state.ReplicaOptions{})
	}
	client := rpc.NewClient(rpc.InProcess(window), options)
	t.Cleanup(func() { client.Close() })
	return client
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:realclock test hang prevention
	t.Cleanup(cancel)
	return ctx
}

func replicaItems(client *rpc.Client) []any {
	value, _ := client.Replica().Get("notes", "items")
	items, _ := value.([]any)
	return items
}

func TestCallAppliesMutationsBeforeReturning(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)

	count, err := client.Singleton("NotesService").Call(ctx, "add", "hello")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if count != float64(1) {
		t.Errorf("add returned %v, want 1", count)
	}
	if items := replicaItems(client); len(items) != 1 || items[0] != "hello" {
		t.Errorf("replica items right after call = %v", items)
	}
	if client.Replica().LastApplied() != 1 {
		t.Errorf("LastApplied = %d, want 1", client.Replica().LastApplied())
	}
}

func TestOtherWindowConvergesThroughPush(t *testing.T) {
	w := newNotesWorker(t, 0)
	writer := newWindowClient(t, w, "writer", rpc.Options{})
	reader := newWindowClient(t, w, "reader", rpc.Options{})
	ctx := testContext(t)

	for _, text := range []string{"one", "two", "three"} {
		if _, err := writer.Singleton("NotesService").Call(ctx, "add", text); err != nil {
			t.Fatal(err)
		}
	}
	if err := reader.WaitForMutationID(ctx, 3); err != nil {
		t.Fatalf("WaitForMutationID: %v", err)
	}

	writerDigest, _, _ := writer.Replica().Digest()
	readerDigest, _, _ := reader.Replica().Digest()
	canonical, _, _ := w.Store().Digest()
	if writerDigest != canonical || readerDigest != canonical {
		t.Errorf("digests differ: writer %s reader %s canonical %s", writerDigest, readerDigest, canonical)
	}
}

func TestHelperProxyRoundTrip(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)
	service := client.Singleton("NotesService")

	if _, err := service.Call(ctx, "add", "intro"); err != nil {
		t.Fatal(err)
	}
	result, err := service.Call(ctx, "note", 0)
	if err != nil {
		t.Fatal(err)
	}
	proxy, ok := result.(*rpc.Proxy)
	if !ok {
		t.Fatalf("note returned %T, want *rpc.Proxy", result)
	}
	if proxy.ResourceID().String() != "Note[0]" || proxy.StringField("text") != "intro" {
		t.Errorf("proxy = %s fields %v", proxy.ResourceID(), proxy.Fields())
	}

	text, err := proxy.Call(ctx, "text")
	if err != nil || text != "intro" {
		t.Errorf("proxy text = %v, %v", text, err)
	}

	// A proxy passed as an argument is resolved back to the live helper.
	described, err := service.Call(ctx, "describe", proxy)
	if err != nil || described != "note: intro" {
		t.Errorf("describe = %v, %v", described, err)
	}
}

func TestCompactModeOmitsFields(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{CompactMode: true})
	ctx := testContext(t)

	result, err := client.Singleton("NotesService").Call(ctx, "note", 0)
	if err != nil {
		t.Fatal(err)
	}
	if fields := result.(*rpc.Proxy).Fields(); len(fields) != 0 {
		t.Errorf("compact proxy fields = %v", fields)
	}
}

func TestPromiseResolvesOnce(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)

	result, err := client.Singleton("NotesService").Call(ctx, "later", "eventually")
	if err != nil {
		t.Fatal(err)
	}
	promise, ok := result.(*resource.Promise)
	if !ok {
		t.Fatalf("later returned %T, want *resource.Promise", result)
	}
	value, err := promise.Wait(ctx)
	if err != nil || value != float64(1) {
		t.Fatalf("promise = %v, %v; want 1", value, err)
	}
	if promise.Resolve("again") {
		t.Error("promise settled twice")
	}
	if err := client.WaitForMutationID(ctx, 1); err != nil {
		t.Fatal(err)
	}
}

func TestStreamSubscriptionIsCachedAndDelivers(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)
	service := client.Singleton("NotesService")

	first, err := service.Stream(ctx, "added")
	if err != nil {
		t.Fatal(err)
	}
	second, err := service.Stream(ctx, "added")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Stream returned a new subscription for the same property")
	}
	if first.ID() != "NotesService.added" {
		t.Errorf("subscription id = %q", first.ID())
	}

	received := make(chan any, 4)
	first.Subscribe(func(value any) { received <- value })
	if _, err := service.Call(ctx, "add", "streamed"); err != nil {
		t.Fatal(err)
	}
	if value := testutil.RequireReceive(t, received, 5*time.Second, "stream emission"); value != "streamed" {
		t.Errorf("emission = %v", value)
	}

	first.Close()
	third, err := service.Stream(ctx, "added")
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("closed subscription was reused")
	}
}

func TestActionSettlesWithMutationID(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)

	pending := client.Singleton("NotesService").Actions().Call(ctx, "add", "async")
	value, err := pending.Wait(ctx)
	if err != nil || value != float64(1) {
		t.Fatalf("action = %v, %v", value, err)
	}
	if pending.MutationID() != 1 {
		t.Errorf("MutationID = %d, want 1", pending.MutationID())
	}
	if err := client.WaitForMutationID(ctx, pending.MutationID()); err != nil {
		t.Fatal(err)
	}
	if items := replicaItems(client); len(items) != 1 {
		t.Errorf("replica items = %v", items)
	}
}

func TestNotifyRunsWithoutResponse(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)

	if err := client.Singleton("NotesService").Actions().Notify(ctx, "add", "quiet"); err != nil {
		t.Fatal(err)
	}
	if err := client.WaitForMutationID(ctx, 1); err != nil {
		t.Fatalf("notify never committed: %v", err)
	}
}

func TestCallErrorCarriesCode(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)

	_, err := client.Singleton("NotesService").Call(ctx, "fail")
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) || wireErr.Code != wire.CodeInternal || !strings.Contains(wireErr.Message, "device busy") {
		t.Errorf("fail error = %v", err)
	}

	_, err = client.Singleton("MissingService").Call(ctx, "anything")
	if !wire.IsCode(err, wire.CodeMethodNotFound) {
		t.Errorf("missing service error = %v", err)
	}

	failed := client.Singleton("NotesService").Actions().Call(ctx, "fail")
	if _, err := failed.Wait(ctx); !wire.IsCode(err, wire.CodeInternal) {
		t.Errorf("failed action error = %v", err)
	}
}

func TestBoundMethodRunsLocally(t *testing.T) {
	w := newNotesWorker(t, 0)
	client := newWindowClient(t, w, "main", rpc.Options{})
	ctx := testContext(t)

	service := client.Singleton("NotesService")
	service.Bind("focus", func(_ context.Context, args ...any) (any, error) {
		return fmt.Sprintf("focused %v", args[0]), nil
	})
	value, err := service.Call(ctx, "focus", "editor")
	if err != nil || value != "focused editor" {
		t.Errorf("bound method = %v, %v", value, err)
	}
	if w.Store().LastID() != 0 {
		t.Error("bound method reached the worker")
	}
}

func TestSyncRestoresLateWindowFromSnapshot(t *testing.T) {
	w := newNotesWorker(t, 2)
	writer := newWindowClient(t, w, "writer", rpc.Options{})
	ctx := testContext(t)

	for i := 0; i < 6; i++ {
		if _, err := writer.Singleton("NotesService").Call(ctx, "add", fmt.Sprintf("note %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	late := newWindowClient(t, w, "late", rpc.Options{})
	if err := late.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if late.Replica().LastApplied() != 6 || late.Replica().Inconsistent() {
		t.Fatalf("late replica at %d (inconsistent %v)", late.Replica().LastApplied(), late.Replica().Inconsistent())
	}
	lateDigest, _, _ := late.Replica().Digest()
	canonical, _, _ := w.Store().Digest()
	if lateDigest != canonical {
		t.Errorf("late digest %s, canonical %s", lateDigest, canonical)
	}
}

// advancingTransport moves a fake clock forward during every call to
// simulate a slow worker.
type advancingTransport struct {
	rpc.Transport
	clock   *clock.FakeClock
	advance time.Duration
}

func (t *advancingTransport) Call(ctx context.Context, request *wire.Request) (*wire.Response, error) {
	t.clock.Advance(t.advance)
	return t.Transport.Call(ctx, request)
}

type syncBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.String()
}

func TestSlowCallIsLogged(t *testing.T) {
	w := newNotesWorker(t, 0)
	window, err := w.Connect("slow")
	if err != nil {
		t.Fatal(err)
	}
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	var logs syncBuffer
	client := rpc.NewClient(
		&advancingTransport{Transport: rpc.InProcess(window), clock: fake, advance: 80 * time.Millisecond},
		rpc.Options{
			Replica:  state.NewReplica(notesSchema(), state.ReplicaOptions{}),
			SlowCall: 50 * time.Millisecond,
			Clock:    fake,
			Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
		},
	)
	defer client.Close()

	if _, err := client.Singleton("NotesService").Call(testContext(t), "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "slow synchronous call") {
		t.Errorf("log output %q lacks the slow call warning", logs.String())
	}
}

func TestCloseRejectsOutstandingPromises(t *testing.T) {
	w := newNotesWorker(t, 0)
	window, err := w.Connect("closing")
	if err != nil {
		t.Fatal(err)
	}
	client := rpc.NewClient(rpc.InProcess(window), rpc.Options{})

	// Hold the transaction lock so the action cannot run.
	_, txn := w.Store().Begin(context.Background())
	pending := client.Singleton("NotesService").Actions().Call(context.Background(), "add", "never")
	client.Close()
	txn.End("")

	if _, err := pending.Wait(testContext(t)); !errors.Is(err, rpc.ErrClosed) {
		t.Errorf("pending action after Close = %v, want ErrClosed", err)
	}
	if !errors.Is(client.Err(), rpc.ErrClosed) {
		t.Errorf("Err() = %v", client.Err())
	}
}
