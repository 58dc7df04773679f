// Package seed loads the demo data each service needs to run end to end.
// Every function is safe to call on every boot: rows that already exist are
// left alone.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/sep-payments/internal/card"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
)

// DemoPassword is the password of every seeded webshop user.
const DemoPassword = "password123"

type accountStore interface {
	GetByAccountNumber(ctx context.Context, number string) (*domain.BankAccount, error)
	Create(ctx context.Context, account *domain.BankAccount) error
}

type cardStore interface {
	GetByPANHash(ctx context.Context, hash string) (*domain.CardRecord, error)
	Create(ctx context.Context, card *domain.CardRecord) error
}

type panEncrypter interface {
	Encrypt(plain string) (string, error)
}

type demoCard struct {
	pan   string
	year  int
	month int
}

type demoAccount struct {
	number  string
	holder  string
	balance string
	card    *demoCard
}

var bankAccounts = []demoAccount{
	{number: "1234567890", holder: "Marko Marković", balance: "500000.00", card: &demoCard{pan: "4532015112830366", year: 2027, month: 12}},
	{number: "9876543210", holder: "Ana Anić", balance: "5000.00", card: &demoCard{pan: "5425233430109903", year: 2026, month: 6}},
	{number: "1122334455", holder: "Petar Petrović", balance: "100000.00", card: &demoCard{pan: "4024007134564842", year: 2023, month: 12}},
}

// Bank creates the customer accounts with their cards and the merchant
// settlement account.
func Bank(ctx context.Context, accounts accountStore, cards cardStore, enc panEncrypter, merchantAccount, merchantName string) error {
	log := logging.FromContext(ctx)

	all := append([]demoAccount{}, bankAccounts...)
	all = append(all, demoAccount{number: merchantAccount, holder: merchantName, balance: "0.00"})

	created := 0
	for _, d := range all {
		acct, err := accounts.GetByAccountNumber(ctx, d.number)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			acct = &domain.BankAccount{
				ID:            uuid.New(),
				AccountNumber: d.number,
				HolderName:    d.holder,
				Balance:       decimal.RequireFromString(d.balance),
				Currency:      domain.CurrencyRSD,
				Active:        true,
				CreatedAt:     time.Now().UTC(),
			}
			if err := accounts.Create(ctx, acct); err != nil {
				return fmt.Errorf("seed.Bank: account %s: %w", d.number, err)
			}
			created++
		case err != nil:
			return fmt.Errorf("seed.Bank: account %s: %w", d.number, err)
		}

		if d.card == nil {
			continue
		}
		rec, err := card.Enroll(enc, acct.ID, d.card.pan, d.holder, d.card.year, d.card.month)
		if err != nil {
			return fmt.Errorf("seed.Bank: card for %s: %w", d.number, err)
		}
		if _, err := cards.GetByPANHash(ctx, rec.PANHash); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("seed.Bank: card for %s: %w", d.number, err)
		}
		if err := cards.Create(ctx, rec); err != nil {
			return fmt.Errorf("seed.Bank: card for %s: %w", d.number, err)
		}
	}

	log.Info("bank seed complete", "accounts_created", created)
	return nil
}

type merchantStore interface {
	Upsert(ctx context.Context, m *domain.Merchant) error
}

// MerchantSeed is the single merchant registered with the PSP.
type MerchantSeed struct {
	MerchantID     string
	Password       string
	Name           string
	CallbackSecret string
}

// PSP registers the merchant. Credentials are refreshed from configuration on
// every run so rotating them only needs a restart.
func PSP(ctx context.Context, merchants merchantStore, m MerchantSeed) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(m.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("seed.PSP: %w", err)
	}
	err = merchants.Upsert(ctx, &domain.Merchant{
		ID:             uuid.New(),
		MerchantID:     m.MerchantID,
		PasswordHash:   string(hash),
		Name:           m.Name,
		CallbackSecret: m.CallbackSecret,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("seed.PSP: %w", err)
	}
	logging.FromContext(ctx).Info("psp seed complete", "merchant_id", m.MerchantID)
	return nil
}

type userStore interface {
	Create(ctx context.Context, u *domain.User) error
}

type vehicleStore interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, v *domain.Vehicle) error
}

type demoUser struct {
	email, first, last, phone string
}

var webshopUsers = []demoUser{
	{email: "test@example.com", first: "Marko", last: "Marković", phone: "+381601234567"},
	{email: "ana@example.com", first: "Ana", last: "Anić", phone: "+381607654321"},
}

type demoVehicle struct {
	brand, model, category, price, description, image string
	year                                              int
	available                                         bool
}

var catalog = []demoVehicle{
	{brand: "Toyota", model: "Camry", year: 2023, category: "Sedan", price: "5000", available: true,
		description: "Comfortable sedan perfect for everyday use and long trips",
		image:       "https://images.unsplash.com/photo-1621007947382-bb3c3994e3fb?w=800&auto=format&fit=crop"},
	{brand: "Honda", model: "CR-V", year: 2023, category: "SUV", price: "7000", available: true,
		description: "Spacious SUV perfect for families and outdoor adventures",
		image:       "https://images.unsplash.com/photo-1519641471654-76ce0107ad1b?w=800&auto=format&fit=crop"},
	{brand: "Volkswagen", model: "Golf", year: 2022, category: "Compact", price: "4000", available: true,
		description: "Economical compact car ideal for city driving",
		image:       "https://images.unsplash.com/photo-1552519507-da3b142c6e3d?w=800&auto=format&fit=crop"},
	{brand: "BMW", model: "5 Series", year: 2024, category: "Luxury", price: "12000", available: true,
		description: "Premium luxury sedan with advanced features",
		image:       "https://images.unsplash.com/photo-1555215695-3004980ad54e?w=800&auto=format&fit=crop"},
	{brand: "Mercedes", model: "GLE", year: 2023, category: "SUV", price: "15000", available: false,
		description: "Luxury SUV - Currently rented",
		image:       "https://images.unsplash.com/photo-1618843479313-40f8afb4b4d8?w=800&auto=format&fit=crop"},
	{brand: "Audi", model: "A4", year: 2023, category: "Sedan", price: "8000", available: true,
		description: "Elegant sedan combining performance and comfort",
		image:       "https://images.unsplash.com/photo-1606664515524-ed2f786a0bd6?w=800&auto=format&fit=crop"},
	{brand: "Tesla", model: "Model 3", year: 2024, category: "Electric", price: "10000", available: true,
		description: "Eco-friendly electric sedan with cutting-edge technology",
		image:       "https://images.unsplash.com/photo-1560958089-b8a1929cea89?w=800&auto=format&fit=crop"},
	{brand: "Ford", model: "Mustang", year: 2023, category: "Sports", price: "14000", available: true,
		description: "Iconic sports car delivering thrilling performance",
		image:       "https://images.unsplash.com/photo-1584345604476-8ec5e12e42dd?w=800&auto=format&fit=crop"},
}

// Webshop creates the demo users and, on an empty catalog, the vehicles.
func Webshop(ctx context.Context, users userStore, vehicles vehicleStore) error {
	log := logging.FromContext(ctx)

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("seed.Webshop: %w", err)
	}
	for _, u := range webshopUsers {
		phone := u.phone
		err := users.Create(ctx, &domain.User{
			ID:           uuid.New(),
			Email:        u.email,
			FirstName:    u.first,
			LastName:     u.last,
			PasswordHash: string(hash),
			Phone:        &phone,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed.Webshop: user %s: %w", u.email, err)
		}
	}

	n, err := vehicles.Count(ctx)
	if err != nil {
		return fmt.Errorf("seed.Webshop: %w", err)
	}
	if n > 0 {
		log.Info("vehicles already present, skipping catalog", "count", n)
		return nil
	}
	for _, d := range catalog {
		desc, image := d.description, d.image
		v := &domain.Vehicle{
			ID:          uuid.New(),
			Brand:       d.brand,
			Model:       d.model,
			Year:        d.year,
			Category:    d.category,
			PricePerDay: decimal.RequireFromString(d.price),
			Currency:    domain.CurrencyRSD,
			Available:   d.available,
			ImageURL:    &image,
			Description: &desc,
		}
		if err := vehicles.Create(ctx, v); err != nil {
			return fmt.Errorf("seed.Webshop: vehicle %s: %w", v.DisplayName(), err)
		}
	}
	log.Info("webshop seed complete", "vehicles", len(catalog))
	return nil
}
