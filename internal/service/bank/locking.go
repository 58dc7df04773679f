package bank

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/domain"
)

type accountLocker interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.BankAccount, error)
}

// lockAccountsInOrder takes row locks in a fixed id order so two settlements
// touching the same pair of accounts cannot deadlock.
func lockAccountsInOrder(ctx context.Context, tx *sql.Tx, accounts accountLocker, ids ...uuid.UUID) (map[uuid.UUID]*domain.BankAccount, error) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	sorted = slices.Compact(sorted)

	result := make(map[uuid.UUID]*domain.BankAccount, len(sorted))
	for _, id := range sorted {
		acct, err := accounts.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lockAccountsInOrder: %w", err)
		}
		result[id] = acct
	}
	return result, nil
}
