// Package keyselect implements the Key Selector: parsing a provider's
// multi-key field and choosing one key at request time (spec.md §4.3).
package keyselect

import (
	"math/rand/v2"
	"strings"
)

// Keys parses a provider's api_keys field (";"-separated, trimmed,
// non-empty entries) and falls back to a single apiKey when api_keys is
// empty.
func Keys(apiKey, apiKeys string) []string {
	if strings.TrimSpace(apiKeys) == "" {
		if strings.TrimSpace(apiKey) == "" {
			return nil
		}
		return []string{strings.TrimSpace(apiKey)}
	}

	parts := strings.Split(apiKeys, ";")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// Select returns a random key from keys, weighted by weights when weights
// has the same length as keys and a positive total; otherwise uniform.
// Returns "", false when keys is empty.
func Select(keys []string, weights []float64) (string, bool) {
	if len(keys) == 0 {
		return "", false
	}

	if len(weights) == len(keys) {
		if total := sum(weights); total > 0 {
			return weightedPick(keys, weights, total), true
		}
	}

	return keys[rand.IntN(len(keys))], true
}

func sum(ws []float64) float64 {
	var total float64
	for _, w := range ws {
		if w > 0 {
			total += w
		}
	}
	return total
}

func weightedPick(keys []string, weights []float64, total float64) string {
	target := rand.Float64() * total
	var cursor float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cursor += w
		if target < cursor {
			return keys[i]
		}
	}
	return keys[len(keys)-1]
}
