package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2024, time.March, 5, 14, 7, 0, 0, time.Local)
}

func TestHash(t *testing.T) {
	a := Hash([]byte("RIFF data"))
	if len(a) != 16 {
		t.Errorf("Expected 16 hex digits, got %q", a)
	}
	if a != Hash([]byte("RIFF data")) {
		t.Errorf("Hash is not deterministic")
	}
	if a == Hash([]byte("RIFF datb")) {
		t.Errorf("Different inputs hashed equal")
	}
}

func TestParseRecord(t *testing.T) {
	p, e, ok := parseRecord("sfx/a,b/123.wem,00ff00ff00ff00ff,05/03/2024 14:07")
	if !ok {
		t.Fatalf("parseRecord failed")
	}
	if p != "sfx/a,b/123.wem" || e.Hash != "00ff00ff00ff00ff" {
		t.Errorf("Unexpected record %q %+v", p, e)
	}
	if e.LastSeen.Day() != 5 || e.LastSeen.Month() != time.March || e.LastSeen.Hour() != 14 {
		t.Errorf("Unexpected timestamp %v", e.LastSeen)
	}
	for _, bad := range []string{"nocomma", ",hash,05/03/2024 14:07", "a,b,2024-03-05", "a,05/03/2024 14:07"} {
		if _, _, ok := parseRecord(bad); ok {
			t.Errorf("parseRecord(%q) should fail", bad)
		}
	}
}

func TestIndexPutUnchanged(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "idx.csv"))
	if idx.Unchanged("a/1.wem", "h1") {
		t.Errorf("Empty index reports unchanged")
	}
	idx.Put(filepath.Join("a", "1.wem"), "h1")
	if !idx.Unchanged("a/1.wem", "h1") {
		t.Errorf("Expected unchanged after Put")
	}
	if idx.Unchanged("a/1.wem", "h2") {
		t.Errorf("Different hash reported unchanged")
	}
	if idx.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", idx.Len())
	}
}

func TestFlushAndLoad(t *testing.T) {
	for _, name := range []string{"idx.csv", "idx.csv.lz4", "idx.csv.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "Logging", name)
			idx := New(path)
			idx.now = fixedClock
			idx.Put("z/9.wem", "0000000000000009")
			idx.Put("a/1.wem", "0000000000000001")
			idx.Put("m,comma/5.wem", "0000000000000005")
			if err := idx.Flush(); err != nil {
				t.Fatalf("Flush failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Len() != 3 {
				t.Fatalf("Expected 3 records, got %d", loaded.Len())
			}
			e, ok := loaded.Lookup("m,comma/5.wem")
			if !ok || e.Hash != "0000000000000005" {
				t.Errorf("Lookup: got %+v, %v", e, ok)
			}
			if !e.LastSeen.Equal(fixedClock()) {
				t.Errorf("Timestamp: got %v, want %v", e.LastSeen, fixedClock())
			}

			entries, _ := os.ReadDir(filepath.Dir(path))
			if len(entries) != 1 {
				t.Errorf("Expected only the index file after flush, found %d entries", len(entries))
			}
		})
	}
}

func TestFlushSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.csv")
	idx := New(path)
	idx.now = fixedClock
	for _, p := range []string{"c.wem", "a.wem", "b.wem"} {
		idx.Put(p, "h")
	}
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "a.wem,h,05/03/2024 14:07\nb.wem,h,05/03/2024 14:07\nc.wem,h,05/03/2024 14:07\n"
	if string(data) != want {
		t.Errorf("Unexpected index contents:\n%s", data)
	}
}

func TestLoadMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	idx, err := Load(filepath.Join(dir, "missing.csv"))
	if err != nil || idx.Len() != 0 {
		t.Fatalf("Missing index should load empty, got %v", err)
	}

	path := filepath.Join(dir, "idx.csv")
	content := strings.Join([]string{
		"good.wem,abc,01/01/2023 00:00",
		"garbage line",
		"",
		"win.wem,def,02/01/2023 10:30\r",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	idx, err = Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if idx.Len() != 2 || !idx.Unchanged("win.wem", "def") {
		t.Errorf("Expected 2 valid records, got %d", idx.Len())
	}
}

func TestConcurrentPut(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "idx.csv"))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := filepath.Join("dir", strings.Repeat("x", i%7), "f.wem")
			idx.Put(p, Hash([]byte(p)))
			idx.Unchanged(p, "x")
		}(i)
	}
	wg.Wait()
	if idx.Len() != 7 {
		t.Errorf("Expected 7 distinct paths, got %d", idx.Len())
	}
}
