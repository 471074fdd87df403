package extract

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Source describes where an asset was found. It feeds the path resolvers.
type Source struct {
	// File is the stem of the input file, used as a folder when Split is set.
	File string
	// Language is the asset's language name, or "" when it has none.
	Language string
	// Languages is the number of languages declared by the enclosing package.
	Languages int
	// BankID is the id of the bank embedding the asset. Only meaningful when InBank is set.
	BankID uint32
	InBank bool
}

// ExternalPath resolves the extension-less output path of an externals-table
// entry, relative to a format root. Externals are named by their 64-bit id
// in hex unless the known-filenames table maps them.
func (o *Options) ExternalPath(src Source, id uint64) string {
	name := fmt.Sprintf("%016x", id)
	known, ok := o.KnownFilenames.Lookup(name)
	if ok {
		name = known
	}
	return o.join(src, name, ok)
}

// StreamPath resolves the output path of a streams-table entry.
func (o *Options) StreamPath(src Source, id uint64) string {
	name := fmt.Sprintf("%08x", id)
	if o.Legacy {
		name = strconv.FormatUint(id, 10)
	}
	return o.join(src, name, false)
}

// BankAssetPath resolves the output path of an asset embedded in a bank's
// DATA chunk. In legacy mode the decimal id is looked up in the known-events
// table.
func (o *Options) BankAssetPath(src Source, id uint32) string {
	if !o.Legacy {
		return o.join(src, fmt.Sprintf("%08x", id), false)
	}
	name := strconv.FormatUint(uint64(id), 10)
	known, ok := o.KnownEvents.Lookup(name)
	if ok {
		name = known
	}
	return o.join(src, name, ok)
}

// join applies the folder precedence: source file, bank id, language, name.
// A known name replaces the language folder. Names read from input files are
// reduced to single path elements; a known name may keep its folders.
func (o *Options) join(src Source, name string, known bool) string {
	var parts []string
	if o.Split && src.File != "" {
		parts = append(parts, cleanPart(src.File))
	}
	if o.Banked && src.InBank {
		parts = append(parts, strconv.FormatUint(uint64(src.BankID), 10))
	}
	if !known && src.Language != "" && (!o.NoLang || src.Languages > 1) {
		parts = append(parts, cleanPart(src.Language))
	}
	if known {
		for _, seg := range strings.Split(name, "/") {
			if seg != "" && seg != "." {
				parts = append(parts, cleanPart(seg))
			}
		}
	} else {
		parts = append(parts, cleanPart(name))
	}
	return path.Join(parts...)
}

// cleanPart turns an untrusted name into one path element that cannot leave
// its parent folder.
func cleanPart(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	switch s {
	case "", ".", "..":
		return "_"
	}
	return s
}
