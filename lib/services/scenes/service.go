// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package scenes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/wire"
)

// ErrSceneNotFound is returned for an unknown scene id. It wraps
// resource.ErrNotFound so callers see a not-found error code.
var ErrSceneNotFound = fmt.Errorf("scene %w", resource.ErrNotFound)

// Subscriber is the common shape of a worker-side stream and a
// client-side subscription.
type Subscriber interface {
	Subscribe(fn func(any)) (unsubscribe func())
}

// Handle is one scene, local or remote.
type Handle interface {
	ID() string
	Name(ctx context.Context) (string, error)
	Rename(ctx context.Context, name string) error
	Select(ctx context.Context) error
}

// API is implemented by the worker-side Service and the remote Client.
type API interface {
	AddScene(ctx context.Context, name string) (Handle, error)
	Scenes(ctx context.Context) ([]Handle, error)
	Scene(ctx context.Context, id string) (Handle, error)
	RemoveScene(ctx context.Context, id string) error
	MakeActive(ctx context.Context, id string) error
	LoadCollection(ctx context.Context, names []string) (*resource.Promise, error)
	SceneSwitched(ctx context.Context) (Subscriber, error)
}

// Service is the worker-side scene collection.
type Service struct {
	store    *state.Canonical
	logger   *slog.Logger
	switched *resource.Stream
}

var _ API = (*Service)(nil)

// New creates the service over store.
func New(store *state.Canonical, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, logger: logger, switched: resource.NewStream()}
}

// RegisterResources registers the service singleton and the Scene
// helper with container.
func RegisterResources(container *resource.Container, store *state.Canonical, logger *slog.Logger) {
	container.RegisterSingleton(ServiceName, func(*resource.Container) (resource.Target, error) {
		return New(store, logger), nil
	})
	container.RegisterHelper(HelperName, func(c *resource.Container, args resource.Args) (resource.Target, error) {
		id, err := args.String(0)
		if err != nil {
			return nil, err
		}
		target, err := c.Resolve(context.Background(), resource.Singleton(ServiceName))
		if err != nil {
			return nil, err
		}
		return target.(*Service).scene(id)
	})
}

// ResourceID implements resource.Resource.
func (s *Service) ResourceID() resource.ID { return resource.Singleton(ServiceName) }

// Methods implements resource.Target.
func (s *Service) Methods() resource.Methods {
	return resource.Methods{
		"addScene": func(ctx context.Context, args resource.Args) (any, error) {
			name, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return s.addScene(ctx, name)
		},
		"getScenes": func(context.Context, resource.Args) (any, error) {
			return map[string]any{"list": s.scenes()}, nil
		},
		"getScene": func(_ context.Context, args resource.Args) (any, error) {
			id, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return s.scene(id)
		},
		"activeScene": func(context.Context, resource.Args) (any, error) {
			id := ActiveID(s.store)
			if id == "" {
				return nil, nil
			}
			return s.scene(id)
		},
		"removeScene": func(ctx context.Context, args resource.Args) (any, error) {
			id, err := s.sceneID(args)
			if err != nil {
				return nil, err
			}
			return nil, s.RemoveScene(ctx, id)
		},
		"makeActive": func(ctx context.Context, args resource.Args) (any, error) {
			id, err := s.sceneID(args)
			if err != nil {
				return nil, err
			}
			return nil, s.MakeActive(ctx, id)
		},
		"loadCollection": func(ctx context.Context, args resource.Args) (any, error) {
			var names []string
			if err := args.Decode(0, &names); err != nil {
				return nil, err
			}
			return s.LoadCollection(ctx, names)
		},
		"sceneSwitched": func(context.Context, resource.Args) (any, error) {
			return s.switched, nil
		},
		"fail": func(context.Context, resource.Args) (any, error) {
			return nil, wire.Errorf(wire.CodeInternal, "scene collection is locked")
		},
	}
}

// sceneID accepts either a scene id string or a Scene reference.
func (s *Service) sceneID(args resource.Args) (string, error) {
	if target, err := args.Target(0); err == nil {
		scene, ok := target.(*Scene)
		if !ok {
			return "", fmt.Errorf("%w: argument 0 is %s, want a Scene", resource.ErrInvalidArgument, target.ResourceID())
		}
		return scene.id, nil
	}
	return args.String(0)
}

func (s *Service) scene(id string) (*Scene, error) {
	for _, info := range List(s.store) {
		if info.ID == id {
			return &Scene{service: s, id: id}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, id)
}

func (s *Service) scenes() []*Scene {
	infos := List(s.store)
	scenes := make([]*Scene, len(infos))
	for i, info := range infos {
		scenes[i] = &Scene{service: s, id: info.ID}
	}
	return scenes
}

func (s *Service) addScene(ctx context.Context, name string) (*Scene, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: scene name is empty", resource.ErrInvalidArgument)
	}
	id := ulid.Make().String()
	if _, err := s.store.Commit(ctx, MutationAddScene, Info{ID: id, Name: name}); err != nil {
		return nil, fmt.Errorf("adding scene %q: %w", name, err)
	}
	s.logger.Debug("scene added", "scene_id", id, "name", name)
	return &Scene{service: s, id: id}, nil
}

// AddScene creates a scene named name.
func (s *Service) AddScene(ctx context.Context, name string) (Handle, error) {
	scene, err := s.addScene(ctx, name)
	if err != nil {
		return nil, err
	}
	return scene, nil
}

// Scenes returns every scene in order.
func (s *Service) Scenes(context.Context) ([]Handle, error) {
	scenes := s.scenes()
	handles := make([]Handle, len(scenes))
	for i, scene := range scenes {
		handles[i] = scene
	}
	return handles, nil
}

// Scene returns the scene with id.
func (s *Service) Scene(_ context.Context, id string) (Handle, error) {
	scene, err := s.scene(id)
	if err != nil {
		return nil, err
	}
	return scene, nil
}

// RemoveScene deletes a scene. Removing the active scene leaves no
// scene active.
func (s *Service) RemoveScene(ctx context.Context, id string) error {
	if _, err := s.scene(id); err != nil {
		return err
	}
	if _, err := s.store.Commit(ctx, MutationRemoveScene, map[string]string{"id": id}); err != nil {
		return fmt.Errorf("removing scene %s: %w", id, err)
	}
	return nil
}

// MakeActive switches to scene id and emits on sceneSwitched.
func (s *Service) MakeActive(ctx context.Context, id string) error {
	scene, err := s.scene(id)
	if err != nil {
		return err
	}
	if ActiveID(s.store) == id {
		return nil
	}
	if _, err := s.store.Commit(ctx, MutationSetActiveScene, map[string]string{"id": id}); err != nil {
		return fmt.Errorf("activating scene %s: %w", id, err)
	}
	s.store.AfterCommit(func() { s.switched.Emit(scene) })
	return nil
}

// LoadCollection adds one scene per name in the background and
// resolves to the number added. Each scene is committed and pushed on
// its own.
func (s *Service) LoadCollection(_ context.Context, names []string) (*resource.Promise, error) {
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: scene name is empty", resource.ErrInvalidArgument)
		}
	}
	return resource.Async(func() (any, error) {
		for i, name := range names {
			err := s.store.Update(context.Background(), func(ctx context.Context) error {
				_, err := s.addScene(ctx, name)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("loading scene %d of %d: %w", i+1, len(names), err)
			}
		}
		return len(names), nil
	}), nil
}

// SceneSwitched returns the stream of newly active scenes.
func (s *Service) SceneSwitched(context.Context) (Subscriber, error) {
	return s.switched, nil
}

// Scene is the helper resource for one scene.
type Scene struct {
	service *Service
	id      string
}

var _ Handle = (*Scene)(nil)

// ResourceID implements resource.Resource.
func (s *Scene) ResourceID() resource.ID { return resource.MustHelper(HelperName, s.id) }

// ResourceFields implements resource.Describer.
func (s *Scene) ResourceFields() map[string]any {
	return map[string]any{"id": s.id, "name": s.name()}
}

// Methods implements resource.Target.
func (s *Scene) Methods() resource.Methods {
	return resource.Methods{
		"getName": func(context.Context, resource.Args) (any, error) {
			return s.name(), nil
		},
		"rename": func(ctx context.Context, args resource.Args) (any, error) {
			name, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return nil, s.Rename(ctx, name)
		},
		"select": func(ctx context.Context, _ resource.Args) (any, error) {
			return nil, s.Select(ctx)
		},
	}
}

func (s *Scene) name() string {
	for _, info := range List(s.service.store) {
		if info.ID == s.id {
			return info.Name
		}
	}
	return ""
}

// ID returns the scene id.
func (s *Scene) ID() string { return s.id }

// Name returns the scene's current name.
func (s *Scene) Name(context.Context) (string, error) { return s.name(), nil }

// Rename changes the scene's name.
func (s *Scene) Rename(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: scene name is empty", resource.ErrInvalidArgument)
	}
	if _, err := s.service.store.Commit(ctx, MutationRenameScene, Info{ID: s.id, Name: name}); err != nil {
		return fmt.Errorf("renaming scene %s: %w", s.id, err)
	}
	return nil
}

// Select makes the scene active.
func (s *Scene) Select(ctx context.Context) error {
	return s.service.MakeActive(ctx, s.id)
}
