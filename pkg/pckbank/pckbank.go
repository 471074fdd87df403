// Package pckbank opens soundbanks stored inside a package's banks table.
package pckbank

import (
	"fmt"

	"github.com/user/wwisego/pkg/bank"
	"github.com/user/wwisego/pkg/pck"
)

// FindBank returns the banks-table entry with the given id.
func FindBank(p *pck.Package, id uint64) (pck.FileEntry, error) {
	if p == nil {
		return pck.FileEntry{}, fmt.Errorf("package is nil")
	}
	for _, e := range p.Banks.Entries {
		if e.ID == id {
			return e, nil
		}
	}
	return pck.FileEntry{}, fmt.Errorf("bank %d not found in package", id)
}

// OpenPackedBank reads the bytes of a banks-table entry and decodes them as a bank.
func OpenPackedBank(p *pck.Package, e pck.FileEntry) (*bank.Bank, error) {
	if p == nil {
		return nil, fmt.Errorf("package is nil")
	}
	data, err := p.GetBytes(e)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank %d from package: %w", e.ID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("bank %d has no content", e.ID)
	}
	b, err := bank.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse packed bank %s: %w", p.GetBankPath(e), err)
	}
	return b, nil
}
