package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/wwisego/pkg/bank"
	"github.com/user/wwisego/pkg/chk"
	"github.com/user/wwisego/pkg/signature"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"wwisetool", "--log-level", "error"}, args...))
	return stdout.String(), err
}

// emptyPackage is a package with no languages and three empty tables.
func emptyPackage() []byte {
	var buf bytes.Buffer
	buf.WriteString("AKPK")
	for _, v := range []uint32{36, 1, 4, 4, 4, 4, 0, 0, 0, 0} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func testBank() []byte {
	var buf bytes.Buffer
	chunk := func(sig uint32, payload []byte) {
		binary.Write(&buf, binary.LittleEndian, sig)
		binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
		buf.Write(payload)
	}
	var hdr, didx bytes.Buffer
	for _, v := range []any{uint32(134), uint32(9), uint32(0), uint16(16), uint16(0), uint32(1)} {
		binary.Write(&hdr, binary.LittleEndian, v)
	}
	binary.Write(&didx, binary.LittleEndian, bank.DataIndexEntry{ID: 1001, Offset: 0, Length: 10})
	chunk(bank.SigBKHD, hdr.Bytes())
	chunk(bank.SigDIDX, didx.Bytes())
	chunk(bank.SigDATA, []byte("RIFF-asset"))
	return buf.Bytes()
}

func writeFile(t *testing.T, p string, data []byte) string {
	t.Helper()
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", p, err)
	}
	return p
}

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "voice.wem"), []byte("RIFF-voice"))
	out := filepath.Join(t.TempDir(), "out")

	stdout, err := runApp(t, "extract", "--out", out, "--wem", in)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if !strings.Contains(stdout, "1 written") {
		t.Errorf("Unexpected stats output %q", stdout)
	}
	got, err := os.ReadFile(filepath.Join(out, "Wem", "voice.wem"))
	if err != nil || string(got) != "RIFF-voice" {
		t.Errorf("Unexpected output %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(out, "Logging", "out-WEM_Checksums.csv")); err != nil {
		t.Errorf("Index not written: %v", err)
	}

	stdout, err = runApp(t, "extract", "--out", out, "--wem", dir)
	if err != nil {
		t.Fatalf("Second extract failed: %v", err)
	}
	if !strings.Contains(stdout, "0 written, 1 skipped") {
		t.Errorf("Expected the second run to skip, got %q", stdout)
	}
}

func TestExtractCommandEnv(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "a.wem"), []byte("RIFF-a"))
	out := filepath.Join(dir, "env-out")
	t.Setenv("WWISE_OUT", out)
	t.Setenv("WWISE_WEM", "true")
	t.Setenv("WWISE_INDEX", filepath.Join(dir, "index.csv.zst"))

	if _, err := runApp(t, "extract", in); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "Wem", "a.wem")); err != nil {
		t.Errorf("Output missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.csv.zst")); err != nil {
		t.Errorf("Index missing: %v", err)
	}
}

func TestExtractCommandErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "a.wem"), []byte("RIFF-a"))
	if _, err := runApp(t, "extract", "--out", dir, in); err == nil {
		t.Errorf("Expected error without an output format")
	}
	if _, err := runApp(t, "extract", "--out", dir, "--wem"); err == nil {
		t.Errorf("Expected error without inputs")
	}
	if _, err := runApp(t, "extract", "--wem", in); err == nil {
		t.Errorf("Expected error without --out")
	}
}

func TestDecryptAndInfo(t *testing.T) {
	dir := t.TempDir()
	plain := emptyPackage()
	obf := append([]byte(nil), plain...)
	chk.XOR(obf[12:44], 36)
	binary.BigEndian.PutUint32(obf[0:4], signature.MagicCHKB)
	in := writeFile(t, filepath.Join(dir, "music.chk"), obf)
	out := filepath.Join(dir, "music.pck")

	if _, err := runApp(t, "decrypt", in, out); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Expected decrypted package %x, got %x", plain, got)
	}

	for _, p := range []string{in, out} {
		stdout, err := runApp(t, "info", p)
		if err != nil {
			t.Fatalf("info %s failed: %v", p, err)
		}
		if !strings.Contains(stdout, "PCK File Summary Info") || !strings.Contains(stdout, "Stream Count : 0") {
			t.Errorf("Unexpected summary for %s: %q", p, stdout)
		}
	}
}

func TestListBank(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, filepath.Join(dir, "sfx.bnk"), testBank())
	stdout, err := runApp(t, "list", p)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if stdout != "000003e9\t10\n" {
		t.Errorf("Unexpected listing %q", stdout)
	}
	if _, err := runApp(t, "list", writeFile(t, filepath.Join(dir, "x.txt"), []byte("text"))); err == nil {
		t.Errorf("Expected error for a plain file")
	}
}
