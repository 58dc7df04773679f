package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

// TestPANKey is a base64 encoded 32 byte AES key for tests only.
const TestPANKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

const TestPassword = "password123"

func SeedBankAccount(t *testing.T, db *sql.DB, number, holder string, balance string) *domain.BankAccount {
	t.Helper()

	a := &domain.BankAccount{
		ID:            uuid.New(),
		AccountNumber: number,
		HolderName:    holder,
		Balance:       decimal.RequireFromString(balance),
		Currency:      domain.CurrencyRSD,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, account_number, holder_name, balance, currency, active, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		a.ID, a.AccountNumber, a.HolderName, a.Balance, a.Currency, a.Active, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed bank account %s: %v", number, err)
	}
	return a
}

func SeedCard(t *testing.T, db *sql.DB, accountID uuid.UUID, pan, holder string, year, month int) *domain.CardRecord {
	t.Helper()

	cipher, err := security.NewPANCipher(TestPANKey)
	if err != nil {
		t.Fatalf("build cipher: %v", err)
	}
	enc, err := cipher.Encrypt(pan)
	if err != nil {
		t.Fatalf("encrypt pan: %v", err)
	}

	c := &domain.CardRecord{
		ID:           uuid.New(),
		AccountID:    accountID,
		PANEncrypted: enc,
		PANHash:      security.BlindIndex(pan),
		LastFour:     pan[len(pan)-4:],
		HolderName:   holder,
		ExpiryYear:   year,
		ExpiryMonth:  month,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO cards (id, account_id, pan_encrypted, pan_hash, last_four, holder_name,
			expiry_year, expiry_month, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.AccountID, c.PANEncrypted, c.PANHash, c.LastFour, c.HolderName,
		c.ExpiryYear, c.ExpiryMonth, c.Active, c.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed card ending %s: %v", c.LastFour, err)
	}
	return c
}

func SeedMerchant(t *testing.T, db *sql.DB, merchantID, password, callbackSecret string) *domain.Merchant {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	m := &domain.Merchant{
		ID:             uuid.New(),
		MerchantID:     merchantID,
		PasswordHash:   string(hash),
		Name:           "Test Merchant",
		CallbackSecret: callbackSecret,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO merchants (id, merchant_id, password_hash, name, callback_secret, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.MerchantID, m.PasswordHash, m.Name, m.CallbackSecret, m.Active, m.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed merchant %s: %v", merchantID, err)
	}
	return m
}

func SeedUser(t *testing.T, db *sql.DB, email, first, last string) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, first_name, last_name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func SeedVehicle(t *testing.T, db *sql.DB, brand, model, pricePerDay string, available bool) *domain.Vehicle {
	t.Helper()

	v := &domain.Vehicle{
		ID:          uuid.New(),
		Brand:       brand,
		Model:       model,
		Year:        2024,
		Category:    "Sedan",
		PricePerDay: decimal.RequireFromString(pricePerDay),
		Currency:    domain.CurrencyRSD,
		Available:   available,
	}

	_, err := db.Exec(
		`INSERT INTO vehicles (id, brand, model, year, category, price_per_day, currency, available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Brand, v.Model, v.Year, v.Category, v.PricePerDay, v.Currency, v.Available,
	)
	if err != nil {
		t.Fatalf("seed vehicle %s %s: %v", brand, model, err)
	}
	return v
}

func GetAccountBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	var balance decimal.Decimal
	err := db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get account balance %s: %v", accountID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, transactionID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE transaction_id = $1`, transactionID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for transaction %s: %v", transactionID, err)
	}
	return count
}

func TransactionStatus(t *testing.T, db *sql.DB, paymentID string) domain.TransactionStatus {
	t.Helper()

	var status domain.TransactionStatus
	err := db.QueryRow(`SELECT status FROM transactions WHERE payment_id = $1`, paymentID).Scan(&status)
	if err != nil {
		t.Fatalf("get transaction status %s: %v", paymentID, err)
	}
	return status
}

// BackdateTransaction moves a payment's expiry into the past.
func BackdateTransaction(t *testing.T, db *sql.DB, paymentID string, by time.Duration) {
	t.Helper()

	_, err := db.ExecContext(context.Background(),
		`UPDATE transactions SET expires_at = expires_at - make_interval(secs => $1) WHERE payment_id = $2`,
		by.Seconds(), paymentID,
	)
	if err != nil {
		t.Fatalf("backdate transaction %s: %v", paymentID, err)
	}
}
