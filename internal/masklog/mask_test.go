package masklog

import "testing"

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"short":                "…",
		"sk-ant-oat01-abc123xyz": "sk-ant-o…",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
