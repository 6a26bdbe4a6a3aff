// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"errors"
	"testing"
)

func TestSingletonID(t *testing.T) {
	id := Singleton("CounterService")
	if id.String() != "CounterService" || id.Kind() != KindSingleton {
		t.Errorf("Singleton = %s (%v)", id, id.Kind())
	}
	parsed, err := ParseID("CounterService")
	if err != nil || parsed != id {
		t.Errorf("ParseID = %v, %v; want %v", parsed, err, id)
	}
}

func TestHelperIDRoundTrip(t *testing.T) {
	id, err := Helper("Scene", "b7c1", 3)
	if err != nil {
		t.Fatalf("Helper: %v", err)
	}
	if got, want := id.String(), `Scene["b7c1",3]`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID(%s): %v", id, err)
	}
	if parsed != id {
		t.Errorf("ParseID(%s) = %#v, want %#v", id, parsed, id)
	}

	args, err := parsed.Args()
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	name, _ := args.String(0)
	number, _ := args.Int(1)
	if name != "b7c1" || number != 3 {
		t.Errorf("Args = %v", args)
	}
}

func TestHelperIDIsDeterministicForObjects(t *testing.T) {
	first := MustHelper("Source", map[string]any{"b": 1, "a": "x"})
	second, err := ParseID(`Source[{"b":1,"a":"x"}]`)
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if first != second {
		t.Errorf("ids differ: %s vs %s", first, second)
	}
	if first.String() != `Source[{"a":"x","b":1}]` {
		t.Errorf("String() = %s", first)
	}
}

func TestHelperIDWithoutArgs(t *testing.T) {
	id := MustHelper("Selection")
	if id.String() != "Selection[]" {
		t.Errorf("String() = %s, want Selection[]", id)
	}
	parsed, err := ParseID("Selection[]")
	if err != nil || parsed != id {
		t.Errorf("ParseID(Selection[]) = %v, %v", parsed, err)
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "[1]", `Scene["a"`, `Scene[not json]`, `Bad"Name`} {
		if _, err := ParseID(input); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ParseID(%q) error = %v, want ErrInvalidID", input, err)
		}
	}
}
