// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package counter_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/castdeck/castdeck/lib/authtoken"
	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/listener"
	"github.com/castdeck/castdeck/lib/rpc"
	"github.com/castdeck/castdeck/lib/services/counter"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/testutil"
	"github.com/castdeck/castdeck/lib/wire"
	"github.com/castdeck/castdeck/lib/worker"
)

const initialValue = 4

func schema() *state.Schema {
	schema := state.NewSchema()
	counter.Register(schema, initialValue)
	return schema
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:realclock test hang prevention
	t.Cleanup(cancel)
	return ctx
}

func newWorker(t *testing.T, fake *clock.FakeClock) *worker.Worker {
	t.Helper()
	w := worker.New(worker.Options{Schema: schema(), Clock: fake})
	w.Container().RegisterSingleton(counter.ServiceName, counter.Factory(w.Store(), counter.Options{Clock: fake}))
	if err := w.Container().Require(context.Background(), counter.ServiceName); err != nil {
		t.Fatalf("Require: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func connect(t *testing.T, w *worker.Worker, id string) *worker.Window {
	t.Helper()
	window, err := w.Connect(id)
	if err != nil {
		t.Fatalf("Connect(%s): %v", id, err)
	}
	t.Cleanup(func() { window.Close() })
	return window
}

func newClient(t *testing.T, w *worker.Worker, id string) *rpc.Client {
	t.Helper()
	client := rpc.NewClient(rpc.InProcess(connect(t, w, id)), rpc.Options{
		Replica: state.NewReplica(schema(), state.ReplicaOptions{}),
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIncrementReturnsMutationsAndPushesToOtherWindows(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t, clock.Fake(time.Unix(1_700_000_000, 0)))
	rendererA := connect(t, w, "renderer-a")
	rendererB := connect(t, w, "renderer-b")

	response, err := rendererA.Execute(ctx, &wire.Request{
		ID:     "1",
		Method: "increment",
		Params: wire.Params{Resource: counter.ServiceName, FetchMutations: true},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if response.Error != nil {
		t.Fatalf("increment error: %v", response.Error)
	}
	if len(response.Result) != 0 {
		t.Errorf("increment result = %s, want none", response.Result)
	}
	if len(response.Mutations) != 1 {
		t.Fatalf("mutations = %v, want one", response.Mutations)
	}
	m := response.Mutations[0]
	if m.ID != 1 || m.Type != counter.MutationSetValue || string(m.Payload) != "5" {
		t.Errorf("mutation = {%d %s %s}, want {1 SET_VALUE 5}", m.ID, m.Type, m.Payload)
	}

	push, err := rendererB.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !push.IsBatch() || len(push.Mutations) != 1 || push.Mutations[0].ID != 1 {
		t.Fatalf("renderer B push = %+v, want batch with mutation 1", push)
	}

	// Renderer A asked for its mutations, so nothing is pushed to it.
	pushed := make(chan wire.Push, 1)
	go func() {
		if push, err := rendererA.Next(ctx); err == nil {
			pushed <- push
		}
	}()
	testutil.RequireNoReceive(t, pushed, 50*time.Millisecond, "renderer A received its own batch")
}

func TestRenderersConverge(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t, clock.Fake(time.Unix(1_700_000_000, 0)))
	clientA := newClient(t, w, "renderer-a")
	clientB := newClient(t, w, "renderer-b")

	if err := counter.NewClient(clientA).Increment(ctx); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if got := counter.Value(clientA.Replica()); got != 5 {
		t.Errorf("renderer A replica value = %v, want 5", got)
	}
	if got := clientA.Replica().LastApplied(); got != 1 {
		t.Errorf("renderer A last applied = %d, want 1", got)
	}

	if err := clientB.WaitForMutationID(ctx, 1); err != nil {
		t.Fatalf("WaitForMutationID: %v", err)
	}
	if got := counter.Value(clientB.Replica()); got != 5 {
		t.Errorf("renderer B replica value = %v, want 5", got)
	}

	canonical, _, err := w.Store().Digest()
	if err != nil {
		t.Fatal(err)
	}
	for name, client := range map[string]*rpc.Client{"A": clientA, "B": clientB} {
		digest, _, err := client.Replica().Digest()
		if err != nil {
			t.Fatal(err)
		}
		if digest != canonical {
			t.Errorf("renderer %s digest %s, canonical %s", name, digest, canonical)
		}
	}
}

// exercise runs the same sequence against any API implementation.
func exercise(t *testing.T, ctx context.Context, api counter.API, start float64) {
	t.Helper()
	if got, err := api.Get(ctx); err != nil || got != start {
		t.Fatalf("Get = (%v, %v), want %v", got, err, start)
	}
	if got, err := api.Add(ctx, 2.5); err != nil || got != start+2.5 {
		t.Fatalf("Add(2.5) = (%v, %v), want %v", got, err, start+2.5)
	}
	if err := api.Increment(ctx); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if got, err := api.Get(ctx); err != nil || got != start+3.5 {
		t.Fatalf("Get = (%v, %v), want %v", got, err, start+3.5)
	}
}

func TestServiceAndClientBehaveAlike(t *testing.T) {
	ctx := testContext(t)

	t.Run("local", func(t *testing.T) {
		w := newWorker(t, clock.Fake(time.Unix(1_700_000_000, 0)))
		exercise(t, ctx, counter.New(w.Store(), counter.Options{}), initialValue)
	})
	t.Run("remote", func(t *testing.T) {
		w := newWorker(t, clock.Fake(time.Unix(1_700_000_000, 0)))
		client := newClient(t, w, "renderer")
		exercise(t, ctx, counter.NewClient(client), initialValue)
		if got := counter.Value(client.Replica()); got != initialValue+3.5 {
			t.Errorf("replica value = %v, want %v", got, initialValue+3.5)
		}
	})
}

func TestIncrementLaterResolvesThroughPromise(t *testing.T) {
	ctx := testContext(t)
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	w := newWorker(t, fake)
	client := newClient(t, w, "renderer")
	remote := counter.NewClient(client)

	changes, err := remote.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	values := make(chan any, 2)
	changes.Subscribe(func(value any) { values <- value })

	promise, err := remote.IncrementLater(ctx)
	if err != nil {
		t.Fatalf("IncrementLater: %v", err)
	}
	if promise.Settled() {
		t.Fatal("promise settled before the delay elapsed")
	}

	fake.WaitForTimers(1)
	fake.Advance(counter.DefaultLaterDelay)

	value, err := promise.Wait(ctx)
	if err != nil {
		t.Fatalf("promise rejected: %v", err)
	}
	if value != float64(5) {
		t.Errorf("promise value = %v, want 5", value)
	}
	if got := testutil.RequireReceive(t, values, 5*time.Second, "waiting for change event"); got != float64(5) {
		t.Errorf("change event = %v, want 5", got)
	}
	if err := client.WaitForMutationID(ctx, 1); err != nil {
		t.Fatalf("WaitForMutationID: %v", err)
	}
	if got := counter.Value(client.Replica()); got != 5 {
		t.Errorf("replica value = %v, want 5", got)
	}
}

func TestUnauthenticatedWebSocketIncrementIsRejected(t *testing.T) {
	ctx := testContext(t)
	fake := clock.Fake(time.Now())
	w := newWorker(t, fake)
	secret := bytes.Repeat([]byte{7}, authtoken.MinSecretSize)
	verifier, err := authtoken.NewVerifier(secret, fake)
	if err != nil {
		t.Fatal(err)
	}
	server := listener.NewServer(w, listener.Options{Authenticator: verifier})
	serverCtx, cancel := context.WithCancel(context.Background())
	httpServer := httptest.NewServer(server.WebSocketHandler(serverCtx, true))
	t.Cleanup(func() {
		cancel()
		httpServer.Close()
	})

	transport, err := rpc.DialWebSocket(ctx, "ws"+strings.TrimPrefix(httpServer.URL, "http"), nil, rpc.DialOptions{})
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	client := rpc.NewClient(transport, rpc.Options{})
	t.Cleanup(func() { client.Close() })
	remote := counter.NewClient(client)

	err = remote.Increment(ctx)
	if err == nil || !strings.Contains(err.Error(), "authorization required") {
		t.Fatalf("Increment before auth = %v, want authorization required", err)
	}
	if got := counter.Value(w.Store()); got != initialValue {
		t.Errorf("value after rejected call = %v, want %v", got, initialValue)
	}

	// The connection is still usable.
	token, _, err := authtoken.Mint(secret, "remote-panel", time.Hour, fake.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Authenticate(ctx, token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := remote.Increment(ctx); err != nil {
		t.Fatalf("Increment after auth: %v", err)
	}
	if got, err := remote.Get(ctx); err != nil || got != 5 {
		t.Errorf("Get = (%v, %v), want 5", got, err)
	}
}

func TestIncrementLaterDoesNotLoseConcurrentCall(t *testing.T) {
	ctx := testContext(t)
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	store := state.NewCanonical(schema(), state.CanonicalOptions{})
	service := counter.New(store, counter.Options{Clock: fake})

	promise, err := service.IncrementLater(ctx)
	if err != nil {
		t.Fatalf("IncrementLater: %v", err)
	}
	fake.WaitForTimers(1)

	// A call is running when the timer fires.
	txCtx, txn := store.Begin(ctx)
	fired := make(chan struct{})
	go func() {
		fake.Advance(counter.DefaultLaterDelay)
		close(fired)
	}()
	testutil.RequireNoReceive(t, fired, 20*time.Millisecond, "delayed increment ran inside a running call")

	if err := service.Increment(txCtx); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	txn.End("")
	testutil.RequireClosed(t, fired, 5*time.Second, "delayed increment")

	value, err := promise.Wait(ctx)
	if err != nil {
		t.Fatalf("promise rejected: %v", err)
	}
	if value != float64(initialValue+2) {
		t.Errorf("promise value = %v, want %d", value, initialValue+2)
	}
	if got := counter.Value(store); got != initialValue+2 {
		t.Errorf("counter = %v after two increments, want %d", got, initialValue+2)
	}
	if got := store.LastID(); got != 2 {
		t.Errorf("last mutation id = %d, want 2", got)
	}
}
