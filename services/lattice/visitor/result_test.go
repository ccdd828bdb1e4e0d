// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_String(t *testing.T) {
	tests := []struct {
		result Result
		want   string
	}{
		{NoVisits, "no_visits"},
		{NotDone, "not_done"},
		{Done, "done"},
		{Result(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.String())
		})
	}
}

func TestResult_Predicates(t *testing.T) {
	assert.True(t, Done.IsDone())
	assert.False(t, NotDone.IsDone())
	assert.False(t, NoVisits.Visited())
	assert.True(t, NotDone.Visited())
	assert.Equal(t, Done, Of(true))
	assert.Equal(t, NotDone, Of(false))
}

func TestRange(t *testing.T) {
	t.Run("empty range reports no visits", func(t *testing.T) {
		calls := 0
		r := Range(3, 3, func(int) Result { calls++; return NotDone })
		assert.Equal(t, NoVisits, r)
		assert.Zero(t, calls)
	})

	t.Run("stop on third of ten", func(t *testing.T) {
		var seen []int
		r := Range(0, 10, func(i int) Result {
			seen = append(seen, i)
			return Of(len(seen) == 3)
		})
		assert.Equal(t, Done, r)
		assert.Equal(t, []int{0, 1, 2}, seen)
	})

	t.Run("full traversal", func(t *testing.T) {
		sum := 0
		r := Range(0, 5, Continue(func(i int) { sum += i }))
		assert.Equal(t, NotDone, r)
		assert.Equal(t, 10, sum)
	})
}

func TestSlice_Until(t *testing.T) {
	var seen []string
	r := Slice([]string{"a", "b", "c"}, func(s string) Result {
		seen = append(seen, s)
		return Until(func(s string) bool { return s == "b" })(s)
	})
	assert.Equal(t, Done, r)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestLimit(t *testing.T) {
	calls := 0
	fn := Limit(3, Continue(func(int) { calls++ }))
	r := Range(0, 10, fn)
	assert.Equal(t, Done, r)
	assert.Equal(t, 3, calls)

	calls = 0
	r = Range(0, 10, Limit(0, Continue(func(int) { calls++ })))
	assert.Equal(t, Done, r)
	assert.Zero(t, calls)
}
