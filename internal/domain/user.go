package domain

import "time"

// User represents an account that spends coins on generation tasks.
//
// Coins is the spendable balance. It is mutated only through the ledger's
// Reserve/Refund/Credit operations, never by direct field writes, so the
// balance stays consistent under concurrent submissions.
type User struct {
	ID         string
	Email      string
	Name       string
	Coins      int64
	WorksCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
