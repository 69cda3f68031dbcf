// Package client holds the read-only interfaces toward collaborating
// services. Payor Management owns approval-rule administration UI and the
// payors' verified bank accounts; this engine only queries it.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PayorDirectory resolves a payor's verified bank account reference for
// payment origination.
type PayorDirectory interface {
	VerifiedBankAccountRef(ctx context.Context, payorID uuid.UUID) (string, error)
}

// StaticPayorDirectory is the in-process stand-in used until the real Payor
// Management integration is wired. Accounts can be registered explicitly;
// unregistered payors get a deterministic sandbox reference.
type StaticPayorDirectory struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]string
}

func NewStaticPayorDirectory() *StaticPayorDirectory {
	return &StaticPayorDirectory{accounts: make(map[uuid.UUID]string)}
}

// Register pins a verified account reference for a payor.
func (d *StaticPayorDirectory) Register(payorID uuid.UUID, accountRef string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[payorID] = accountRef
}

func (d *StaticPayorDirectory) VerifiedBankAccountRef(ctx context.Context, payorID uuid.UUID) (string, error) {
	d.mu.RLock()
	ref, ok := d.accounts[payorID]
	d.mu.RUnlock()
	if ok {
		return ref, nil
	}
	return fmt.Sprintf("DDA-%s", payorID.String()[:8]), nil
}
