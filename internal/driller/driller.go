// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package driller

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// segment is one step of a dotted path. Either a key lookup or an explicit
// array index (items[2]).
type segment struct {
	key     string
	index   int
	isIndex bool
}

// indexRe matches a trailing explicit array index, e.g. "items[0]".
var indexRe = regexp.MustCompile(`^(.*?)\[(\d+)\]$`)

// Driller extracts the value at path from a JSON document. Paths are dotted
// keys with optional explicit array indices (a.b[1].c). Single-element arrays
// are transparent: "items.id" drills through {"items": [{"id": ...}]} without
// an index. A path that lands on a multi-element array returns the array
// itself.
func Driller(doc string, path string) gjson.Result {
	result := gjson.Parse(doc)

	for _, seg := range splitPath(path) {
		if !result.Exists() {
			return gjson.Result{}
		}

		if seg.isIndex {
			if !result.IsArray() {
				return gjson.Result{}
			}
			arr := result.Array()
			if seg.index < 0 || seg.index >= len(arr) {
				return gjson.Result{}
			}
			result = arr[seg.index]
			continue
		}

		// A key segment against an array only makes sense when the array is
		// transparent (exactly one element).
		if result.IsArray() {
			arr := result.Array()
			if len(arr) != 1 {
				return gjson.Result{}
			}
			result = arr[0]
		}

		result = result.Get(seg.key)
	}

	// Unwrap a lone trailing element so callers see the scalar.
	if result.IsArray() {
		if arr := result.Array(); len(arr) == 1 {
			return arr[0]
		}
	}

	return result
}

// splitPath breaks a dotted path into segments, expanding explicit indices
// into their own steps.
func splitPath(path string) []segment {
	if path == "" {
		return nil
	}

	//nolint:prealloc
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if m := indexRe.FindStringSubmatch(part); m != nil {
			if m[1] != "" {
				segs = append(segs, segment{key: m[1]})
			}
			idx, _ := strconv.Atoi(m[2])
			segs = append(segs, segment{index: idx, isIndex: true})
			continue
		}
		segs = append(segs, segment{key: part})
	}

	return segs
}
