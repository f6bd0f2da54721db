package sse

import (
	"io"
	"strings"
	"testing"
)

func TestScannerParsesNamedEvent(t *testing.T) {
	s := NewScanner(strings.NewReader("event: message_delta\ndata: {\"usage\":{}}\n\n"))
	ev, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Name != "message_delta" || ev.Data != `{"usage":{}}` {
		t.Fatalf("got %+v", ev)
	}
}

func TestScannerParsesDataOnly(t *testing.T) {
	s := NewScanner(strings.NewReader("data: {\"a\":1}\n\n"))
	ev, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Name != "" || ev.Data != `{"a":1}` {
		t.Fatalf("got %+v", ev)
	}
}

func TestScannerMultipleEvents(t *testing.T) {
	s := NewScanner(strings.NewReader("event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"))

	first, err := s.Next()
	if err != nil || first.Name != "a" {
		t.Fatalf("got %+v err=%v", first, err)
	}
	second, err := s.Next()
	if err != nil || second.Name != "b" {
		t.Fatalf("got %+v err=%v", second, err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestEventEncode(t *testing.T) {
	ev := Event{Name: "content_block_stop", Data: `{"index":0}`}
	want := "event: content_block_stop\ndata: {\"index\":0}\n\n"
	if got := ev.Encode(); got != want {
		t.Fatalf("got %q", got)
	}
}

func TestEventEncodeDataOnly(t *testing.T) {
	ev := Event{Data: "1"}
	if got := ev.Encode(); got != "data: 1\n\n" {
		t.Fatalf("got %q", got)
	}
}
