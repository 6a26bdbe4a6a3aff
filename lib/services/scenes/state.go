// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package scenes

import (
	"fmt"

	"github.com/castdeck/castdeck/lib/state"
)

const (
	// ServiceName is the singleton's resource name and state module.
	ServiceName = "ScenesService"

	// HelperName is the helper type of a single scene.
	HelperName = "Scene"
)

// Mutation types committed by the service.
const (
	MutationAddScene       = "ADD_SCENE"
	MutationRenameScene    = "RENAME_SCENE"
	MutationRemoveScene    = "REMOVE_SCENE"
	MutationSetActiveScene = "SET_ACTIVE_SCENE"
)

// Info is the plain-data form of a scene.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Register adds the scenes module and its reducers to schema.
func Register(schema *state.Schema) {
	schema.Module(ServiceName, map[string]any{
		"scenes":        []any{},
		"activeSceneId": "",
	})
	schema.Reducer(MutationAddScene, func(tree state.Tree, payload any) error {
		fields, err := payloadFields(payload, "id", "name")
		if err != nil {
			return err
		}
		module := tree.Module(ServiceName)
		list := sceneList(module)
		if indexOf(list, fields["id"]) >= 0 {
			return fmt.Errorf("scene %s already exists", fields["id"])
		}
		module["scenes"] = append(list, map[string]any{"id": fields["id"], "name": fields["name"]})
		return nil
	})
	schema.Reducer(MutationRenameScene, func(tree state.Tree, payload any) error {
		fields, err := payloadFields(payload, "id", "name")
		if err != nil {
			return err
		}
		list := sceneList(tree.Module(ServiceName))
		index := indexOf(list, fields["id"])
		if index < 0 {
			return fmt.Errorf("scene %s does not exist", fields["id"])
		}
		list[index].(map[string]any)["name"] = fields["name"]
		return nil
	})
	schema.Reducer(MutationRemoveScene, func(tree state.Tree, payload any) error {
		fields, err := payloadFields(payload, "id")
		if err != nil {
			return err
		}
		module := tree.Module(ServiceName)
		list := sceneList(module)
		index := indexOf(list, fields["id"])
		if index < 0 {
			return fmt.Errorf("scene %s does not exist", fields["id"])
		}
		remaining := append(append([]any{}, list[:index]...), list[index+1:]...)
		module["scenes"] = remaining
		if module["activeSceneId"] == fields["id"] {
			module["activeSceneId"] = ""
		}
		return nil
	})
	schema.Reducer(MutationSetActiveScene, func(tree state.Tree, payload any) error {
		fields, err := payloadFields(payload, "id")
		if err != nil {
			return err
		}
		module := tree.Module(ServiceName)
		if indexOf(sceneList(module), fields["id"]) < 0 {
			return fmt.Errorf("scene %s does not exist", fields["id"])
		}
		module["activeSceneId"] = fields["id"]
		return nil
	})
}

func payloadFields(payload any, names ...string) (map[string]string, error) {
	object, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is %T, want an object", payload)
	}
	fields := make(map[string]string, len(names))
	for _, name := range names {
		value, ok := object[name].(string)
		if !ok {
			return nil, fmt.Errorf("payload field %q missing or not a string", name)
		}
		fields[name] = value
	}
	return fields, nil
}

func sceneList(module map[string]any) []any {
	list, _ := module["scenes"].([]any)
	return list
}

func indexOf(list []any, id string) int {
	for i, item := range list {
		if scene, ok := item.(map[string]any); ok && scene["id"] == id {
			return i
		}
	}
	return -1
}

// Getter reads a state tree; both state.Canonical and state.Replica
// implement it.
type Getter interface {
	Get(path ...string) (any, bool)
}

// List returns the scenes in source, in order.
func List(source Getter) []Info {
	raw, _ := source.Get(ServiceName, "scenes")
	items, _ := raw.([]any)
	infos := make([]Info, 0, len(items))
	for _, item := range items {
		scene, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := scene["id"].(string)
		name, _ := scene["name"].(string)
		infos = append(infos, Info{ID: id, Name: name})
	}
	return infos
}

// ActiveID returns the active scene id in source, or "".
func ActiveID(source Getter) string {
	raw, _ := source.Get(ServiceName, "activeSceneId")
	id, _ := raw.(string)
	return id
}
