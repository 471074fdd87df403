package knownnames

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAndLookup(t *testing.T) {
	in := strings.Join([]string{
		"00000000deadbeef\tVO/Chapter1/line_001.wem",
		"",
		"  ",
		"no tab here",
		"1234\tevents\\boss\\roar.wav\textra",
		"77\tflat.wem\r",
	}, "\n")
	tbl, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tbl) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(tbl))
	}
	tests := []struct {
		id, want string
		ok       bool
	}{
		{"00000000deadbeef", "VO/Chapter1/line_001", true},
		{"1234", "events/boss/roar", true},
		{"77", "flat", true},
		{"missing", "", false},
	}
	for _, tt := range tests {
		got, ok := tbl.Lookup(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
	var empty Table
	if _, ok := empty.Lookup("1234"); ok {
		t.Errorf("nil table should not match")
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "Known_Events.tsv")
	if err := os.WriteFile(p, []byte("5\ta/b.wem\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	tbl, err := Load(p)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, _ := tbl.Lookup("5"); got != "a/b" {
		t.Errorf("Lookup: got %q", got)
	}
	if _, err := Load(p + ".missing"); err == nil {
		t.Errorf("Expected error for missing file")
	}
}
