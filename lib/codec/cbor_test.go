// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestMarshalDeterministicMapOrder(t *testing.T) {
	// Two maps with identical content built in different insertion
	// orders must encode to identical bytes.
	first := map[string]any{}
	first["zeta"] = 1.5
	first["alpha"] = "a"
	first["mid"] = []any{true, nil}

	second := map[string]any{}
	second["mid"] = []any{true, nil}
	second["alpha"] = "a"
	second["zeta"] = 1.5

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first): %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second): %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("deterministic encoding violated: %x != %x", firstBytes, secondBytes)
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{
		"CounterService": map[string]any{"value": 5.0},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	root, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded root is %T, want map[string]any", decoded)
	}
	module, ok := root["CounterService"].(map[string]any)
	if !ok {
		t.Fatalf("decoded module is %T, want map[string]any", root["CounterService"])
	}
	if module["value"] != 5.0 {
		t.Errorf("value = %v (%T), want float64 5", module["value"], module["value"])
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "main"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"name"`) || !strings.Contains(notation, `"main"`) {
		t.Errorf("diagnostic notation %q missing expected strings", notation)
	}
}
