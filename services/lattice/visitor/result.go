// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visitor defines the traversal contract shared by every iteration
// entry point of the lattice.
//
// Traversal never allocates result collections. Instead each entry point
// takes a callback that is invoked once per logical entity and returns a
// Result. A Done result short-circuits the loop that produced it, and every
// loop returns the Result of its last callback so that an enclosing loop
// driven by the same callback chain stops as well.
//
// A loop with nothing to visit returns NoVisits, which lets callers tell
// "visited everything" apart from "there was nothing there".
package visitor

// Result is the three-valued outcome of a traversal.
type Result uint8

const (
	// NoVisits means the traversal invoked no callback.
	NoVisits Result = iota

	// NotDone means the traversal visited at least one entity and was not
	// asked to stop.
	NotDone

	// Done means a callback asked to stop. Enclosing traversals must
	// propagate it without visiting anything else.
	Done
)

// String returns the lower-case name of the result.
func (r Result) String() string {
	switch r {
	case NoVisits:
		return "no_visits"
	case NotDone:
		return "not_done"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// IsDone reports whether the traversal was stopped early.
func (r Result) IsDone() bool {
	return r == Done
}

// Visited reports whether the traversal invoked at least one callback.
func (r Result) Visited() bool {
	return r != NoVisits
}

// Of converts a "stop" flag into a Result.
func Of(stop bool) Result {
	if stop {
		return Done
	}
	return NotDone
}

// Func is a callback invoked once per visited entity.
type Func[T any] func(T) Result

// Continue returns a Func that calls fn for its side effect and never stops.
func Continue[T any](fn func(T)) Func[T] {
	return func(v T) Result {
		fn(v)
		return NotDone
	}
}

// Until returns a Func that stops at the first entity for which pred holds.
func Until[T any](pred func(T) bool) Func[T] {
	return func(v T) Result {
		return Of(pred(v))
	}
}

// Limit wraps fn so that traversal stops after n callbacks. The nth
// callback still runs. A non-positive n stops before fn is ever called.
func Limit[T any](n int, fn Func[T]) Func[T] {
	seen := 0
	return func(v T) Result {
		if seen >= n {
			return Done
		}
		seen++
		r := fn(v)
		if r == Done || seen >= n {
			return Done
		}
		return r
	}
}

// Slice visits items in order with the standard loop semantics.
func Slice[T any](items []T, fn Func[T]) Result {
	result := NoVisits
	for _, item := range items {
		result = fn(item)
		if result == Done {
			return Done
		}
	}
	return result
}

// Range visits the integers in [from, to) in ascending order.
func Range(from, to int, fn Func[int]) Result {
	result := NoVisits
	for i := from; i < to; i++ {
		result = fn(i)
		if result == Done {
			return Done
		}
	}
	return result
}
