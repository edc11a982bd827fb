// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package output

import (
	"sort"
	"strings"
)

// sortKey is a single parsed --sort field. A leading - reverses the order and
// a leading ! makes string comparison case sensitive.
type sortKey struct {
	key           string
	descending    bool
	caseSensitive bool
}

// SortDataset sorts the result set in place per the provided spec. The spec
// is a comma separated list of output keys, each optionally prefixed with -
// (descending) and/or ! (case sensitive). An empty spec leaves the dataset
// in its original order.
func SortDataset(dataset []map[string]interface{}, spec string) {
	if spec == "" || len(dataset) < 2 {
		return
	}

	keys := parseSortSpec(spec)
	if len(keys) == 0 {
		return
	}

	sort.SliceStable(dataset, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareValues(dataset[i][k.key], dataset[j][k.key], k.caseSensitive)
			if cmp == 0 {
				continue
			}
			if k.descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// parseSortSpec breaks the comma separated spec into sortKeys. Empty fields
// are dropped.
func parseSortSpec(spec string) []sortKey {
	//nolint:prealloc
	var keys []sortKey

	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)

		var k sortKey
		for {
			if strings.HasPrefix(field, "-") {
				k.descending = true
				field = strings.TrimPrefix(field, "-")
				continue
			}
			if strings.HasPrefix(field, "!") {
				k.caseSensitive = true
				field = strings.TrimPrefix(field, "!")
				continue
			}
			break
		}

		if field == "" {
			continue
		}

		k.key = field
		keys = append(keys, k)
	}

	return keys
}

// compareValues orders two cell values. Numerics compare numerically, nils
// sort first, everything else falls back to string comparison.
func compareValues(a, b interface{}, caseSensitive bool) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	na, aok := toFloat64(a)
	nb, bok := toFloat64(b)
	if aok && bok {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}

	sa := InterfaceToString(a)
	sb := InterfaceToString(b)
	if !caseSensitive {
		sa = strings.ToLower(sa)
		sb = strings.ToLower(sb)
	}

	return strings.Compare(sa, sb)
}

// toFloat64 attempts to normalize various numeric types to float64.
// Returns (0, false) if v is not a recognized numeric type.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
