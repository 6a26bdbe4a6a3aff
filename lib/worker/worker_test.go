// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/wire"
)

// tallyService is a minimal service exercising every result shape.
type tallyService struct {
	store   *state.Canonical
	changed *resource.Stream
}

func (s *tallyService) ResourceID() resource.ID { return resource.Singleton("TallyService") }

func (s *tallyService) total() float64 {
	value, _ := s.store.Get("tally", "total")
	total, _ := state.Number(value)
	return total
}

func (s *tallyService) add(ctx context.Context, amount float64) (float64, error) {
	total := s.total() + amount
	if _, err := s.store.Commit(ctx, "SET_TOTAL", total); err != nil {
		return 0, err
	}
	s.store.AfterCommit(func() { s.changed.Emit(total) })
	return total, nil
}

func (s *tallyService) Methods() resource.Methods {
	return resource.Methods{
		"add": func(ctx context.Context, args resource.Args) (any, error) {
			amount, err := args.Float(0)
			if err != nil {
				return nil, err
			}
			return s.add(ctx, amount)
		},
		"total": func(context.Context, resource.Args) (any, error) {
			return s.total(), nil
		},
		"later": func(context.Context, resource.Args) (any, error) {
			return resource.Async(func() (any, error) {
				return s.add(context.Background(), 10)
			}), nil
		},
		"reject": func(context.Context, resource.Args) (any, error) {
			return resource.Rejected(errors.New("collection missing")), nil
		},
		"changed": func(context.Context, resource.Args) (any, error) {
			return s.changed, nil
		},
		"item": func(_ context.Context, args resource.Args) (any, error) {
			name, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return &tallyItem{name: name}, nil
		},
		"boom": func(context.Context, resource.Args) (any, error) {
			panic("boom")
		},
		"nothing": func(context.Context, resource.Args) (any, error) {
			return nil, nil
		},
	}
}

type tallyItem struct {
	name string
}

func (i *tallyItem) ResourceID() resource.ID { return resource.MustHelper("TallyItem", i.name) }
func (i *tallyItem) Methods() resource.Methods {
	return resource.Methods{"name": func(context.Context, resource.Args) (any, error) { return i.name, nil }}
}
func (i *tallyItem) ResourceFields() map[string]any { return map[string]any{"name": i.name} }

func tallySchema() *state.Schema {
	schema := state.NewSchema()
	schema.Module("tally", map[string]any{"total": 0})
	schema.Reducer("SET_TOTAL", func(tree state.Tree, payload any) error {
		total, err := state.Number(payload)
		if err != nil {
			return err
		}
		tree.Module("tally")["total"] = total
		return nil
	})
	return schema
}

func newTestWorker(t *testing.T, options Options) *Worker {
	t.Helper()
	options.Schema = tallySchema()
	if options.Clock == nil {
		options.Clock = clock.Fake(time.Unix(1_700_000_000, 0))
	}
	w := New(options)
	w.Container().RegisterSingleton("TallyService", func(*resource.Container) (resource.Target, error) {
		return &tallyService{store: w.Store(), changed: resource.NewStream()}, nil
	})
	w.Container().RegisterHelper("TallyItem", func(_ *resource.Container, args resource.Args) (resource.Target, error) {
		name, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return &tallyItem{name: name}, nil
	})
	t.Cleanup(w.Close)
	return w
}

func connect(t *testing.T, w *Worker, id string) *Window {
	t.Helper()
	window, err := w.Connect(id)
	if err != nil {
		t.Fatalf("Connect(%s): %v", id, err)
	}
	t.Cleanup(func() { window.Close() })
	return window
}

var requestCounter int

func request(resourceID, method string, args ...any) *wire.Request {
	requestCounter++
	encoded, err := wire.EncodeArgs(args)
	if err != nil {
		panic(err)
	}
	return &wire.Request{
		ID:     fmt.Sprintf("req-%d", requestCounter),
		Method: method,
		Params: wire.Params{Resource: resourceID, Args: encoded, FetchMutations: true},
	}
}

func execute(t *testing.T, window *Window, req *wire.Request) *wire.Response {
	t.Helper()
	response, err := window.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute(%s.%s): %v", req.Params.Resource, req.Method, err)
	}
	return response
}

func nextPush(t *testing.T, window *Window) wire.Push {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:realclock test hang prevention
	defer cancel()
	push, err := window.Next(ctx)
	if err != nil {
		t.Fatalf("window %s: waiting for push: %v", window.PeerID(), err)
	}
	return push
}

func requireNoPush(t *testing.T, window *Window) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond) //nolint:realclock bounded negative check
	defer cancel()
	if push, err := window.Next(ctx); err == nil {
		t.Fatalf("window %s received unexpected push %+v", window.PeerID(), push)
	}
}

func decodeResult(t *testing.T, response *wire.Response, v any) {
	t.Helper()
	if response.Error != nil {
		t.Fatalf("response %s failed: %v", response.ID, response.Error)
	}
	if err := json.Unmarshal(response.Result, v); err != nil {
		t.Fatalf("decoding result %s: %v", response.Result, err)
	}
}

func TestSyncCallReturnsMutationsAndPushesToOthers(t *testing.T) {
	w := newTestWorker(t, Options{})
	windowA := connect(t, w, "window-a")
	windowB := connect(t, w, "window-b")

	response := execute(t, windowA, request("TallyService", "add", 2))
	var total float64
	decodeResult(t, response, &total)
	if total != 2 {
		t.Errorf("add result = %v, want 2", total)
	}
	if len(response.Mutations) != 1 || response.Mutations[0].ID != 1 || response.Mutations[0].Type != "SET_TOTAL" {
		t.Fatalf("response mutations = %+v", response.Mutations)
	}

	push := nextPush(t, windowB)
	if !push.IsBatch() || push.Mutations[0].ID != 1 {
		t.Errorf("window-b push = %+v, want batch [1]", push)
	}
	requireNoPush(t, windowA)
}

func TestSyncCallWithoutFetchMutationsPushesToOrigin(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	req := request("TallyService", "add", 1)
	req.Params.FetchMutations = false
	response := execute(t, window, req)
	if len(response.Mutations) != 0 {
		t.Errorf("response carried %d mutations without fetchMutations", len(response.Mutations))
	}
	if push := nextPush(t, window); !push.IsBatch() {
		t.Errorf("push = %+v, want batch", push)
	}
}

func TestActionBatchReachesOriginAndResponseIsPushed(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	req := request("TallyService", "add", 3)
	if err := window.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	batch := nextPush(t, window)
	if !batch.IsBatch() || batch.Mutations[0].ID != 1 {
		t.Fatalf("first push = %+v, want batch [1]", batch)
	}
	reply := nextPush(t, window)
	if reply.Response == nil || reply.Response.ID != req.ID {
		t.Fatalf("second push = %+v, want response %s", reply, req.ID)
	}
	if len(reply.Response.Mutations) != 1 {
		t.Errorf("action response mutations = %+v", reply.Response.Mutations)
	}
}

func TestNoReturnActionSendsNoResponse(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	req := request("TallyService", "add", 1)
	req.Params.NoReturn = true
	req.Params.FetchMutations = false
	if err := window.Dispatch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if push := nextPush(t, window); !push.IsBatch() {
		t.Fatalf("push = %+v, want batch", push)
	}
	requireNoPush(t, window)
}

func TestPromiseSettlementPushedToOrigin(t *testing.T) {
	w := newTestWorker(t, Options{})
	windowA := connect(t, w, "window-a")
	windowB := connect(t, w, "window-b")

	response := execute(t, windowA, request("TallyService", "later"))
	var ref wire.Reference
	decodeResult(t, response, &ref)
	if ref.Type != wire.TypeSubscription || ref.Emitter != wire.EmitterPromise || ref.ResourceID == "" {
		t.Fatalf("result = %+v, want promise subscription", ref)
	}

	// The background commit is broadcast first, then the settlement
	// goes to window-a alone.
	if push := nextPush(t, windowA); !push.IsBatch() {
		t.Fatalf("first push = %+v, want batch", push)
	}
	settled := nextPush(t, windowA)
	if settled.Event == nil || settled.Event.ResourceID != ref.ResourceID || settled.Event.IsRejected {
		t.Fatalf("second push = %+v, want settlement of %s", settled, ref.ResourceID)
	}
	if string(settled.Event.Data) != "10" {
		t.Errorf("settlement data = %s, want 10", settled.Event.Data)
	}

	if push := nextPush(t, windowB); !push.IsBatch() {
		t.Errorf("window-b push = %+v, want batch", push)
	}
	requireNoPush(t, windowB)
}

func TestRejectedPromiseCarriesError(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	execute(t, window, request("TallyService", "reject"))
	push := nextPush(t, window)
	if push.Event == nil || !push.Event.IsRejected {
		t.Fatalf("push = %+v, want rejected settlement", push)
	}
	var wireErr wire.Error
	if err := json.Unmarshal(push.Event.Data, &wireErr); err != nil {
		t.Fatal(err)
	}
	if wireErr.Message != "collection missing" {
		t.Errorf("rejection = %+v", wireErr)
	}
}

func TestStreamEmissionFollowsMutations(t *testing.T) {
	w := newTestWorker(t, Options{})
	windowA := connect(t, w, "window-a")
	windowB := connect(t, w, "window-b")

	var ref wire.Reference
	decodeResult(t, execute(t, windowA, request("TallyService", "changed")), &ref)
	if ref.Emitter != wire.EmitterStream || ref.ResourceID != "TallyService.changed" {
		t.Fatalf("result = %+v", ref)
	}
	// Subscribing again reuses the forwarder.
	execute(t, windowB, request("TallyService", "changed"))

	execute(t, windowA, request("TallyService", "add", 5))

	batch := nextPush(t, windowB)
	if !batch.IsBatch() {
		t.Fatalf("first push = %+v, want batch", batch)
	}
	event := nextPush(t, windowB)
	if event.Event == nil || event.Event.Emitter != wire.EmitterStream || string(event.Event.Data) != "5" {
		t.Fatalf("second push = %+v, want stream event 5", event)
	}
	requireNoPush(t, windowB)

	// window-a got its mutations in the response, so only the event.
	if push := nextPush(t, windowA); push.Event == nil {
		t.Errorf("window-a push = %+v, want stream event", push)
	}
}

func TestHelperResultIsReference(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	var ref wire.Reference
	decodeResult(t, execute(t, window, request("TallyService", "item", "north")), &ref)
	if ref.Type != wire.TypeHelper || ref.ResourceID != `TallyItem["north"]` || ref.Fields["name"] != "north" {
		t.Fatalf("result = %+v", ref)
	}

	compact := request("TallyService", "item", "north")
	compact.Params.CompactMode = true
	decodeResult(t, execute(t, window, compact), &ref)
	if ref.Fields != nil {
		t.Errorf("compact result carried fields %v", ref.Fields)
	}

	var name string
	decodeResult(t, execute(t, window, request(ref.ResourceID, "name")), &name)
	if name != "north" {
		t.Errorf("helper round trip name = %q", name)
	}
}

func TestUndefinedResultIsOmitted(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	response := execute(t, window, request("TallyService", "nothing"))
	if response.Error != nil || response.Result != nil {
		t.Errorf("response = %+v, want no result and no error", response)
	}
}

func TestCallErrors(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")

	tests := []struct {
		name string
		req  *wire.Request
		code wire.Code
	}{
		{"unknown resource", request("NoSuchService", "get"), wire.CodeMethodNotFound},
		{"unknown method", request("TallyService", "explode"), wire.CodeMethodNotFound},
		{"bad argument", request("TallyService", "add", "two"), wire.CodeInvalidParams},
		{"malformed id", request(`TallyItem["x"`, "name"), wire.CodeMethodNotFound},
		{"panic", request("TallyService", "boom"), wire.CodeInternal},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response := execute(t, window, test.req)
			if response.Error == nil || response.Error.Code != test.code {
				t.Fatalf("response = %+v, want code %v", response, test.code)
			}
			if response.ID != test.req.ID {
				t.Errorf("response id = %q, want %q", response.ID, test.req.ID)
			}
		})
	}

	// The executor survives a panic and the transaction lock is free.
	var total float64
	decodeResult(t, execute(t, window, request("TallyService", "add", 1)), &total)
	if total != 1 {
		t.Errorf("total after failures = %v, want 1", total)
	}
}

func TestReplicationServiceSince(t *testing.T) {
	w := newTestWorker(t, Options{LogSize: 2})
	window := connect(t, w, "window-a")

	for i := 0; i < 3; i++ {
		execute(t, window, request("TallyService", "add", 1))
	}

	var retained state.SinceResult
	decodeResult(t, execute(t, window, request(state.ReplicationServiceName, "since", 1)), &retained)
	if !retained.Retained || len(retained.Mutations) != 2 || retained.LastID != 3 {
		t.Errorf("since(1) = %+v", retained)
	}

	var missed state.SinceResult
	decodeResult(t, execute(t, window, request(state.ReplicationServiceName, "since", 0)), &missed)
	if missed.Retained || len(missed.Mutations) != 0 {
		t.Errorf("since(0) = %+v, want retention miss", missed)
	}

	var snapshot state.Snapshot
	decodeResult(t, execute(t, window, request(state.ReplicationServiceName, "snapshot")), &snapshot)
	tree, err := snapshot.Tree()
	if err != nil {
		t.Fatalf("decoding served snapshot: %v", err)
	}
	total, _ := tree.Get("tally", "total")
	if n, _ := state.Number(total); n != 3 || snapshot.LastID != 3 {
		t.Errorf("snapshot total = %v at %d", total, snapshot.LastID)
	}

	var status state.StatusResult
	decodeResult(t, execute(t, window, request(state.ReplicationServiceName, "status")), &status)
	if status.OldestRetained != 2 || len(status.Peers) != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestDuplicateWindowRejected(t *testing.T) {
	w := newTestWorker(t, Options{})
	connect(t, w, "window-a")
	if _, err := w.Connect("window-a"); err == nil {
		t.Fatal("second Connect with the same id succeeded")
	}
	if ids := w.Hub().PeerIDs(); len(ids) != 1 {
		t.Errorf("peers = %v, want the original window only", ids)
	}
}

func TestClosedWindowRejectsCalls(t *testing.T) {
	w := newTestWorker(t, Options{})
	window := connect(t, w, "window-a")
	window.Close()

	if _, err := window.Execute(context.Background(), request("TallyService", "total")); !errors.Is(err, ErrWindowClosed) {
		t.Errorf("Execute after Close = %v", err)
	}
	if err := window.Dispatch(context.Background(), request("TallyService", "total")); !errors.Is(err, ErrWindowClosed) {
		t.Errorf("Dispatch after Close = %v", err)
	}
	if _, err := window.Next(context.Background()); !errors.Is(err, ErrWindowClosed) {
		t.Errorf("Next after Close = %v", err)
	}
}

func TestPushQueueOverflowRequestsResync(t *testing.T) {
	w := newTestWorker(t, Options{PushQueueSize: 2})
	slow := connect(t, w, "slow")
	fast := connect(t, w, "fast")

	for i := 0; i < 5; i++ {
		execute(t, fast, request("TallyService", "add", 1))
	}
	push := nextPush(t, slow)
	if !push.Resync {
		t.Fatalf("slow window first push = %+v, want resync", push)
	}
	requireNoPush(t, slow)
}
