// Package knownnames loads id-to-path tables used to give extracted files
// readable names.
package knownnames

import (
	"bufio"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// Table maps an id, formatted as it appears in the TSV, to a relative path.
type Table map[string]string

// Load reads a tab-separated table from path.
func Load(p string) (Table, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open known names %s", p)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read known names %s", p)
	}
	return t, nil
}

// Parse reads "id<TAB>path" lines. Blank lines and lines without a tab are ignored.
func Parse(r io.Reader) (Table, error) {
	t := make(Table)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		t[fields[0]] = fields[1]
	}
	return t, sc.Err()
}

// Lookup returns the mapped path for id with its extension removed, in
// slash form. A nil table never matches.
func (t Table) Lookup(id string) (string, bool) {
	full, ok := t[id]
	if !ok {
		return "", false
	}
	full = strings.ReplaceAll(full, "\\", "/")
	dir, file := path.Split(full)
	stem := strings.TrimSuffix(file, path.Ext(file))
	return path.Join(dir, stem), true
}
