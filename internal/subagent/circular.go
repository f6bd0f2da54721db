package subagent

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const circularSentinel = "[Circular]"

// SafeMarshal serializes v to JSON, replacing any reference cycle with the
// sentinel "[Circular]" instead of failing (spec.md §4.8 "Circular-
// reference defense"). Go's own data structures (maps, slices built from
// decoded JSON) rarely cycle, but the subagent follow-up body is built by
// appending live decoded structures together, so this guards the same
// failure mode the original addresses by a visited-set walk before
// marshaling.
func SafeMarshal(v any) ([]byte, error) {
	cleaned := breakCycles(v, map[uintptr]bool{})
	return json.Marshal(cleaned)
}

func breakCycles(v any, visited map[uintptr]bool) any {
	// Raw JSON and byte slices hold no references; hand them to
	// json.Marshal unchanged instead of walking them byte by byte.
	switch v.(type) {
	case json.RawMessage, []byte:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		ptr := rv.Pointer()
		if visited[ptr] {
			return circularSentinel
		}
		visited[ptr] = true
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = breakCycles(iter.Value().Interface(), copyVisited(visited))
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return nil
			}
			ptr := rv.Pointer()
			if visited[ptr] {
				return circularSentinel
			}
			visited[ptr] = true
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = breakCycles(rv.Index(i).Interface(), copyVisited(visited))
		}
		return out

	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return breakCycles(rv.Elem().Interface(), visited)

	default:
		return v
	}
}

func copyVisited(v map[uintptr]bool) map[uintptr]bool {
	out := make(map[uintptr]bool, len(v))
	for k := range v {
		out[k] = true
	}
	return out
}
