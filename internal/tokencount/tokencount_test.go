package tokencount

import (
	"encoding/json"
	"testing"
)

func TestCountGrowsWithContent(t *testing.T) {
	short := []Message{{Content: []string{"hi"}}}
	long := []Message{{Content: []string{"hello there, this is a much longer message body"}}}

	n1, err := Count(short, nil, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	n2, err := Count(long, nil, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n2 <= n1 {
		t.Fatalf("expected longer content to count more tokens, got %d vs %d", n1, n2)
	}
}

func TestCountIncludesSystemAndTools(t *testing.T) {
	base, err := Count(nil, nil, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	withExtras, err := Count(nil,
		[]string{"you are a helpful assistant"},
		[]Tool{{Name: "search", Description: "search the web", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if withExtras <= base {
		t.Fatalf("expected system+tools to add tokens, got base=%d withExtras=%d", base, withExtras)
	}
}

func TestCountEmpty(t *testing.T) {
	n, err := Count(nil, nil, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 tokens for empty input, got %d", n)
	}
}
