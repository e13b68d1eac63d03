// internal/util/util_test.go
package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "no truncation", in: "hello", max: 10, want: "hello"},
		{name: "ascii truncation", in: "helloworld", max: 5, want: "hello…"},
		{name: "multibyte truncation", in: "こんにちは世界", max: 4, want: "こんにち…"},
		{name: "negative disables", in: "hello", max: -1, want: "hello"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Fatalf("TruncateRunes(%q,%d)=%q want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Model:One":                    "model_one",
		"  Model Two  ":                "model-two",
		"Model--Three!!":               "model-three",
		"__Mixed__Case__":              "mixed__case",
		"Qwen/Qwen2.5-VL-32B-Instruct": "qwen_qwen2-5-vl-32b-instruct",
	}
	for input, expected := range cases {
		if got := Slugify(input); got != expected {
			t.Fatalf("Slugify(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestEnsureParentDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "results.csv")
	if err := EnsureParentDir(path); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}
	if err := EnsureParentDir("results.csv"); err != nil {
		t.Fatalf("bare file name: %v", err)
	}
}
