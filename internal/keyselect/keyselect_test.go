package keyselect

import "testing"

func TestKeysSemicolonSeparated(t *testing.T) {
	got := Keys("", " k1 ; k2;k3 ")
	want := []string{"k1", "k2", "k3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestKeysFallsBackToSingle(t *testing.T) {
	got := Keys("single-key", "")
	if len(got) != 1 || got[0] != "single-key" {
		t.Fatalf("got %v", got)
	}
}

func TestKeysEmpty(t *testing.T) {
	if got := Keys("", ""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSelectNoKeys(t *testing.T) {
	if _, ok := Select(nil, nil); ok {
		t.Fatal("expected ok=false for no keys")
	}
}

func TestSelectUniformCoversAllKeys(t *testing.T) {
	keys := []string{"k1", "k2", "k3"}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		k, ok := Select(keys, nil)
		if !ok {
			t.Fatal("expected ok=true")
		}
		seen[k] = true
	}
	for _, k := range keys {
		if !seen[k] {
			t.Fatalf("key %q never selected over 200 draws", k)
		}
	}
}

func TestSelectWeightedPicksOnlyPositiveWeight(t *testing.T) {
	keys := []string{"k1", "k2"}
	weights := []float64{1, 0}
	for i := 0; i < 50; i++ {
		k, ok := Select(keys, weights)
		if !ok || k != "k1" {
			t.Fatalf("expected k1 always, got %q", k)
		}
	}
}

func TestSelectMismatchedWeightsFallsBackToUniform(t *testing.T) {
	keys := []string{"k1", "k2"}
	weights := []float64{1}
	if _, ok := Select(keys, weights); !ok {
		t.Fatal("expected ok=true")
	}
}

func TestSelectZeroTotalWeightFallsBackToUniform(t *testing.T) {
	keys := []string{"k1", "k2"}
	weights := []float64{0, 0}
	if _, ok := Select(keys, weights); !ok {
		t.Fatal("expected ok=true")
	}
}
