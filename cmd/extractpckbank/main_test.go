package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/wwisego/pkg/bank"
)

// createTestPackage writes a package holding bank 77 with one embedded asset.
func createTestPackage(t *testing.T) string {
	t.Helper()
	var bnk bytes.Buffer
	chunk := func(sig uint32, payload []byte) {
		binary.Write(&bnk, binary.LittleEndian, sig)
		binary.Write(&bnk, binary.LittleEndian, uint32(len(payload)))
		bnk.Write(payload)
	}
	var hdr, didx bytes.Buffer
	for _, v := range []any{uint32(134), uint32(77), uint32(0), uint16(16), uint16(0), uint32(1)} {
		binary.Write(&hdr, binary.LittleEndian, v)
	}
	binary.Write(&didx, binary.LittleEndian, bank.DataIndexEntry{ID: 5, Offset: 0, Length: 8})
	chunk(bank.SigBKHD, hdr.Bytes())
	chunk(bank.SigDIDX, didx.Bytes())
	chunk(bank.SigDATA, []byte("RIFFdata"))

	const headerEnd = 64
	var buf bytes.Buffer
	buf.WriteString("AKPK")
	for _, v := range []uint32{
		// header
		headerEnd - 8, 1, 4, 24, 4, 4,
		// languages
		0,
		// banks
		1, 77, 1, uint32(bnk.Len()), headerEnd, 0,
		// streams, externals
		0, 0,
	} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(bnk.Bytes())

	p := filepath.Join(t.TempDir(), "test.pck")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write package: %v", err)
	}
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"extractpckbank", "--log-level", "error"}, args...))
	return stdout.String(), err
}

func TestList(t *testing.T) {
	p := createTestPackage(t)
	out, err := run(t, "--pck", p, "--bank", "77", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.HasPrefix(out, "0/77.bnk (bank 77, 1 assets)") || !strings.Contains(out, "  5\t8\n") {
		t.Errorf("Unexpected listing %q", out)
	}
}

func TestExtract(t *testing.T) {
	p := createTestPackage(t)
	dir := t.TempDir()
	if _, err := run(t, "--pck", p, "--bank", "77", "extract", "--out", dir); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "0", "77", "5.wem"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "RIFFdata" {
		t.Errorf("Expected RIFFdata, got %q", got)
	}
}

func TestMissingBank(t *testing.T) {
	p := createTestPackage(t)
	if _, err := run(t, "--pck", p, "--bank", "78", "list"); err == nil {
		t.Errorf("Expected error for a bank that is not in the package")
	}
}
