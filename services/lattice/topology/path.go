// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import (
	"slices"
	"strings"
)

// Path is an immutable sequence of directions.
//
// A Path holds no coordinates. It is replayed against a start coordinate
// with Topology.Walk. The zero value is the empty path.
type Path struct {
	dirs []Direction2D
}

// NewPath copies dirs into a new Path.
func NewPath(dirs ...Direction2D) Path {
	if len(dirs) == 0 {
		return Path{}
	}
	return Path{dirs: slices.Clone(dirs)}
}

// ParsePath reads a comma or space separated list of direction names.
func ParsePath(s string) (Path, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	dirs := make([]Direction2D, 0, len(fields))
	for _, f := range fields {
		d, err := ParseDirection(f)
		if err != nil {
			return Path{}, err
		}
		dirs = append(dirs, d)
	}
	return Path{dirs: dirs}, nil
}

// Len returns the number of steps.
func (p Path) Len() int {
	return len(p.dirs)
}

// At returns the direction of step i.
func (p Path) At(i int) Direction2D {
	return p.dirs[i]
}

// Directions returns a copy of the steps.
func (p Path) Directions() []Direction2D {
	return slices.Clone(p.dirs)
}

// Equal reports whether both paths have the same direction sequence.
func (p Path) Equal(o Path) bool {
	return slices.Equal(p.dirs, o.dirs)
}

func (p Path) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, d := range p.dirs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(d.String())
	}
	sb.WriteByte(']')
	return sb.String()
}
