package reconcile

import (
	"context"
	"fmt"

	"github.com/newtron-network/nbseed/pkg/netbox"
)

// State is what Ensure did for one desired object.
type State int

const (
	// Created means the object did not exist and was written.
	Created State = iota
	// Existing means the object was already present and was read back.
	Existing
	// Skipped means the write conflicted and no reference was needed.
	Skipped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Existing:
		return "exists"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is the result of ensuring one object. Record is nil when State is
// Skipped.
type Outcome[T any] struct {
	Kind   string
	Key    string
	State  State
	Record *T
}

// EnsureOp describes how to make one object exist.
//
// Lookup, when set, runs first: a found object is returned as Existing and
// Create is never called. Create is otherwise attempted; if the server
// reports a uniqueness conflict, Fetch recovers the existing object, or the
// object is Skipped when Fetch is nil.
type EnsureOp[T any] struct {
	Kind   string
	Key    string
	Lookup func(ctx context.Context) (*T, bool, error)
	Create func(ctx context.Context) (*T, error)
	Fetch  func(ctx context.Context) (*T, error)
}

// Ensure makes op's object exist. Any failure other than a uniqueness
// conflict is returned wrapped with the object's kind and key.
func Ensure[T any](ctx context.Context, op EnsureOp[T]) (Outcome[T], error) {
	out := Outcome[T]{Kind: op.Kind, Key: op.Key}

	if op.Lookup != nil {
		rec, found, err := op.Lookup(ctx)
		if err != nil {
			return out, fmt.Errorf("ensuring %s %s: lookup: %w", op.Kind, op.Key, err)
		}
		if found {
			out.State, out.Record = Existing, rec
			return out, nil
		}
	}

	rec, err := op.Create(ctx)
	if err == nil {
		out.State, out.Record = Created, rec
		return out, nil
	}
	if !netbox.IsConflict(err) {
		return out, fmt.Errorf("ensuring %s %s: %w", op.Kind, op.Key, err)
	}

	if op.Fetch == nil {
		out.State = Skipped
		return out, nil
	}
	rec, ferr := op.Fetch(ctx)
	if ferr != nil {
		return out, fmt.Errorf("ensuring %s %s: fetching existing after %v: %w", op.Kind, op.Key, err, ferr)
	}
	out.State, out.Record = Existing, rec
	return out, nil
}
