// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package scenes_test

import (
	"context"
	"testing"
	"time"

	"github.com/castdeck/castdeck/lib/rpc"
	"github.com/castdeck/castdeck/lib/services/scenes"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/testutil"
	"github.com/castdeck/castdeck/lib/wire"
	"github.com/castdeck/castdeck/lib/worker"
)

func schema() *state.Schema {
	schema := state.NewSchema()
	scenes.Register(schema)
	return schema
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:realclock test hang prevention
	t.Cleanup(cancel)
	return ctx
}

func newWorker(t *testing.T) *worker.Worker {
	t.Helper()
	w := worker.New(worker.Options{Schema: schema()})
	scenes.RegisterResources(w.Container(), w.Store(), nil)
	t.Cleanup(w.Close)
	return w
}

func newClient(t *testing.T, w *worker.Worker, id string, compact bool) *rpc.Client {
	t.Helper()
	window, err := w.Connect(id)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client := rpc.NewClient(rpc.InProcess(window), rpc.Options{
		Replica:     state.NewReplica(schema(), state.ReplicaOptions{}),
		CompactMode: compact,
	})
	t.Cleanup(func() {
		client.Close()
		window.Close()
	})
	return client
}

// exercise runs the same sequence against any API implementation.
func exercise(t *testing.T, ctx context.Context, api scenes.API) {
	t.Helper()
	intro, err := api.AddScene(ctx, "Intro")
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	if _, err := api.AddScene(ctx, "Gameplay"); err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	if err := intro.Rename(ctx, "Starting Soon"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if name, err := intro.Name(ctx); err != nil || name != "Starting Soon" {
		t.Errorf("Name = (%q, %v), want Starting Soon", name, err)
	}

	list, err := api.Scenes(ctx)
	if err != nil {
		t.Fatalf("Scenes: %v", err)
	}
	if len(list) != 2 || list[0].ID() != intro.ID() {
		t.Fatalf("Scenes = %d scenes, first %q; want 2, first %q", len(list), list[0].ID(), intro.ID())
	}

	if err := list[1].Select(ctx); err != nil {
		t.Fatalf("Select: %v", err)
	}
	same, err := api.Scene(ctx, list[1].ID())
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	if name, _ := same.Name(ctx); name != "Gameplay" {
		t.Errorf("Scene(%s).Name = %q, want Gameplay", list[1].ID(), name)
	}

	if err := api.RemoveScene(ctx, list[1].ID()); err != nil {
		t.Fatalf("RemoveScene: %v", err)
	}
	if _, err := api.Scene(ctx, list[1].ID()); err == nil {
		t.Error("removed scene is still resolvable")
	}
}

func TestServiceAndClientBehaveAlike(t *testing.T) {
	ctx := testContext(t)

	t.Run("local", func(t *testing.T) {
		w := newWorker(t)
		service := scenes.New(w.Store(), nil)
		exercise(t, ctx, service)
		if id := scenes.ActiveID(w.Store()); id != "" {
			t.Errorf("active scene after removing it = %q, want none", id)
		}
	})
	t.Run("remote", func(t *testing.T) {
		w := newWorker(t)
		client := newClient(t, w, "renderer", false)
		exercise(t, ctx, scenes.NewClient(client))

		want := scenes.List(w.Store())
		got := scenes.List(client.Replica())
		if len(got) != 1 || len(want) != 1 || got[0] != want[0] {
			t.Errorf("replica scenes %v, canonical %v", got, want)
		}
	})
}

func TestSceneReferenceCarriesFieldsUnlessCompact(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)

	full := newClient(t, w, "full", false)
	added, err := scenes.NewClient(full).AddScene(ctx, "Intro")
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	if name := added.(*scenes.RemoteScene).CachedName(); name != "Intro" {
		t.Errorf("CachedName = %q, want Intro", name)
	}

	compact := newClient(t, w, "compact", true)
	scene, err := scenes.NewClient(compact).Scene(ctx, added.ID())
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	if name := scene.(*scenes.RemoteScene).CachedName(); name != "" {
		t.Errorf("compact CachedName = %q, want empty", name)
	}
	if scene.ID() != added.ID() {
		t.Errorf("compact ID = %q, want %q", scene.ID(), added.ID())
	}
}

func TestMakeActiveAcceptsSceneReferenceAndEmits(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)
	client := newClient(t, w, "renderer", false)
	api := scenes.NewClient(client)

	switched, err := api.SceneSwitched(ctx)
	if err != nil {
		t.Fatalf("SceneSwitched: %v", err)
	}
	events := make(chan any, 2)
	switched.Subscribe(func(value any) { events <- value })

	handle, err := api.AddScene(ctx, "Outro")
	if err != nil {
		t.Fatalf("AddScene: %v", err)
	}
	// Pass the scene itself; the worker resolves the reference.
	remote := handle.(*scenes.RemoteScene)
	if _, err := client.Singleton(scenes.ServiceName).Call(ctx, "makeActive", remote.Proxy()); err != nil {
		t.Fatalf("makeActive: %v", err)
	}
	if id := scenes.ActiveID(client.Replica()); id != handle.ID() {
		t.Errorf("replica active scene = %q, want %q", id, handle.ID())
	}

	event := testutil.RequireReceive(t, events, 5*time.Second, "waiting for sceneSwitched")
	proxy, ok := event.(*rpc.Proxy)
	if !ok {
		t.Fatalf("sceneSwitched event is %T, want a scene proxy", event)
	}
	if proxy.StringField("id") != handle.ID() || proxy.StringField("name") != "Outro" {
		t.Errorf("sceneSwitched fields = %v", proxy.Fields())
	}

	// Making the active scene active again commits and emits nothing.
	last := client.Replica().LastApplied()
	if err := api.MakeActive(ctx, handle.ID()); err != nil {
		t.Fatalf("MakeActive: %v", err)
	}
	if got := client.Replica().LastApplied(); got != last {
		t.Errorf("repeated activation committed mutation %d", got)
	}
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "repeated activation emitted")
}

func TestLoadCollectionResolvesAfterScenesArrive(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)
	client := newClient(t, w, "renderer", false)

	promise, err := scenes.NewClient(client).LoadCollection(ctx, []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("LoadCollection: %v", err)
	}
	value, err := promise.Wait(ctx)
	if err != nil {
		t.Fatalf("promise rejected: %v", err)
	}
	if value != float64(3) {
		t.Errorf("promise value = %v, want 3", value)
	}
	if err := client.WaitForMutationID(ctx, 3); err != nil {
		t.Fatalf("WaitForMutationID: %v", err)
	}
	names := []string{}
	for _, info := range scenes.List(client.Replica()) {
		names = append(names, info.Name)
	}
	if len(names) != 3 || names[0] != "A" || names[2] != "C" {
		t.Errorf("replica scenes = %v, want [A B C]", names)
	}
}

func TestErrorsCarryCodes(t *testing.T) {
	ctx := testContext(t)
	w := newWorker(t)
	client := newClient(t, w, "renderer", false)
	service := client.Singleton(scenes.ServiceName)

	_, err := service.Call(ctx, "fail")
	if !wire.IsCode(err, wire.CodeInternal) {
		t.Errorf("fail error = %v, want internal", err)
	}
	_, err = service.Call(ctx, "getScene", "missing")
	if !wire.IsCode(err, wire.CodeMethodNotFound) {
		t.Errorf("getScene(missing) error = %v, want not found", err)
	}
	_, err = service.Call(ctx, "addScene", "")
	if !wire.IsCode(err, wire.CodeInvalidParams) {
		t.Errorf("addScene(\"\") error = %v, want invalid params", err)
	}
}

func TestReducersRejectInvalidMutations(t *testing.T) {
	s := schema()
	tree := s.NewTree()
	add := map[string]any{"id": "s1", "name": "One"}
	if err := s.Apply(tree, scenes.MutationAddScene, add); err != nil {
		t.Fatalf("ADD_SCENE: %v", err)
	}
	if err := s.Apply(tree, scenes.MutationAddScene, add); err == nil {
		t.Error("duplicate ADD_SCENE accepted")
	}
	if err := s.Apply(tree, scenes.MutationSetActiveScene, map[string]any{"id": "nope"}); err == nil {
		t.Error("SET_ACTIVE_SCENE for unknown scene accepted")
	}
	if err := s.Apply(tree, scenes.MutationRenameScene, map[string]any{"id": "s1"}); err == nil {
		t.Error("RENAME_SCENE without a name accepted")
	}
	if err := s.Apply(tree, scenes.MutationSetActiveScene, map[string]any{"id": "s1"}); err != nil {
		t.Fatalf("SET_ACTIVE_SCENE: %v", err)
	}
	if err := s.Apply(tree, scenes.MutationRemoveScene, map[string]any{"id": "s1"}); err != nil {
		t.Fatalf("REMOVE_SCENE: %v", err)
	}
	if active := tree.Module(scenes.ServiceName)["activeSceneId"]; active != "" {
		t.Errorf("activeSceneId after removal = %v, want empty", active)
	}
}
