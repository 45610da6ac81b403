package config

import (
	"errors"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if !cfg.Asserts {
		t.Error("asserts disabled by default")
	}
}

func TestParseHumanReadableSizes(t *testing.T) {
	cfg, err := Parse([]byte(`
heap-size: 512KB
max-heap-size: 8MB
growth-percent: 50
stack-size: 16384
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeapSize != 512*1024 {
		t.Errorf("HeapSize = %d, want 512KB", cfg.HeapSize)
	}
	if cfg.MaxHeapSize != 8*1024*1024 {
		t.Errorf("MaxHeapSize = %d, want 8MB", cfg.MaxHeapSize)
	}
	if cfg.GrowthPercent != 50 {
		t.Errorf("GrowthPercent = %d, want 50", cfg.GrowthPercent)
	}
	if cfg.StackSize != 16384 {
		t.Errorf("StackSize = %d, want 16384", cfg.StackSize)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`heap-size: 4MB`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxHeapSize < cfg.HeapSize {
		t.Errorf("MaxHeapSize default %d below HeapSize %d", cfg.MaxHeapSize, cfg.HeapSize)
	}
	if cfg.GrowthPercent == 0 || cfg.StackSize == 0 {
		t.Error("defaults not applied to omitted fields")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want error
	}{
		{"heap too small", "heap-size: 1KB\nmax-heap-size: 4MB", nil},
		{"max below init", "heap-size: 8MB\nmax-heap-size: 4MB", ErrMaxBelowInit},
		{"unaligned", "heap-size: 5000\nmax-heap-size: 4MB", ErrUnaligned},
		{"bad growth", "heap-size: 1MB\ngrowth-percent: 5000", ErrBadGrowth},
		{"bad size string", "heap-size: lots", nil},
		{"unknown field", "heap-size: 1MB\nshoe-size: 43", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("no error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSizeString(t *testing.T) {
	s := Size(4 * 1024 * 1024)
	if got := s.String(); !strings.Contains(got, "MB") {
		t.Errorf("Size.String() = %q, want a human-readable rendering", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("testdata/does-not-exist.yaml"); err == nil {
		t.Error("loading a missing file did not fail")
	}
}
