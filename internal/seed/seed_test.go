package seed_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/seed"
	"github.com/josh-kwaku/sep-payments/internal/testutil"
)

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestBank_IdempotentAndEncrypted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	cipher, err := security.NewPANCipher(testutil.TestPANKey)
	require.NoError(t, err)
	accounts := repository.NewAccountRepository(db)
	cards := repository.NewCardRepository(db)

	for range 2 {
		require.NoError(t, seed.Bank(ctx, accounts, cards, cipher, "840000000095584510", "Car Rental Agency"))
	}

	assert.Equal(t, 4, count(t, db, "accounts"))
	assert.Equal(t, 3, count(t, db, "cards"))

	merchant, err := accounts.GetByAccountNumber(ctx, "840000000095584510")
	require.NoError(t, err)
	assert.True(t, merchant.Balance.IsZero())

	rec, err := cards.GetByPANHash(ctx, security.BlindIndex("4532015112830366"))
	require.NoError(t, err)
	assert.Equal(t, "0366", rec.LastFour)
	assert.NotContains(t, rec.PANEncrypted, "4532015112830366")

	plain, err := cipher.Decrypt(rec.PANEncrypted)
	require.NoError(t, err)
	assert.Equal(t, "4532015112830366", plain)
}

func TestPSP_RefreshesCredentials(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	merchants := repository.NewMerchantRepository(db)

	m := seed.MerchantSeed{MerchantID: "WEBSHOP-001", Password: "first", Name: "Car Rental Agency", CallbackSecret: "s1"}
	require.NoError(t, seed.PSP(ctx, merchants, m))

	m.Password, m.CallbackSecret = "second", "s2"
	require.NoError(t, seed.PSP(ctx, merchants, m))

	got, err := merchants.GetByMerchantID(ctx, "WEBSHOP-001")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.CallbackSecret)
	assert.True(t, got.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("second")))
	assert.Equal(t, 1, count(t, db, "merchants"))
}

func TestWebshop_SkipsExistingCatalog(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)
	vehicles := repository.NewVehicleRepository(db)

	require.NoError(t, seed.Webshop(ctx, users, vehicles))
	require.NoError(t, seed.Webshop(ctx, users, vehicles))

	assert.Equal(t, 2, count(t, db, "users"))
	assert.Equal(t, 8, count(t, db, "vehicles"))

	available, err := vehicles.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, available, 7)

	u, err := users.GetByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(seed.DemoPassword)))
}
