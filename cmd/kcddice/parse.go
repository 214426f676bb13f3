package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cory-johannsen/kcddice/internal/game/dice"
)

func fields(expr string) []string {
	return strings.FieldsFunc(expr, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == ';'
	})
}

// parsePool reads six die IDs, e.g. "fair,fair,lucky,lucky,odd,odd" or the
// counted form "fair:2,lucky:2,odd:2".
func parsePool(catalog *dice.Catalog, expr string) (*dice.Pool, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("no dice given")
	}
	var ids []string
	for _, f := range fields(expr) {
		id, n := f, 1
		if i := strings.LastIndexByte(f, ':'); i >= 0 {
			count, err := strconv.Atoi(f[i+1:])
			if err != nil || count < 1 {
				return nil, fmt.Errorf("invalid count in %q", f)
			}
			id, n = f[:i], count
		}
		for range n {
			ids = append(ids, id)
		}
	}
	return catalog.PoolOf(ids)
}

func parseInts(expr string) ([]int, error) {
	var out []int
	for _, f := range fields(expr) {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(expr string) ([]float64, error) {
	var out []float64
	for _, f := range fields(expr) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}
