// Package psp implements the payment service provider: merchant
// authentication, payment session bookkeeping, provider routing and the
// relay of bank results to the merchant.
package psp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

type sessionRepository interface {
	Create(ctx context.Context, s *domain.PaymentSession) error
	GetBySTAN(ctx context.Context, stan string) (*domain.PaymentSession, error)
	GetLatestByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentSession, error)
	MarkInitialized(ctx context.Context, s *domain.PaymentSession, bankPaymentID, bankPaymentURL string) error
	Resolve(ctx context.Context, s *domain.PaymentSession, status domain.SessionStatus, gtx *string, acquirerTS *time.Time) (bool, error)
}

type merchantRepository interface {
	GetByMerchantID(ctx context.Context, merchantID string) (*domain.Merchant, error)
}

type merchantNotifier interface {
	Notify(ctx context.Context, m *domain.Merchant, s *domain.PaymentSession) string
}

type Config struct {
	BankMerchantID string
	SessionTTL     time.Duration
}

type Service struct {
	sessions  sessionRepository
	merchants merchantRepository
	providers *Registry
	notifier  merchantNotifier
	signer    *security.Signer
	metrics   *metrics.Metrics
	cfg       Config
	clock     func() time.Time
}

func NewService(
	sessions sessionRepository,
	merchants merchantRepository,
	providers *Registry,
	notifier merchantNotifier,
	signer *security.Signer,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	return &Service{
		sessions:  sessions,
		merchants: merchants,
		providers: providers,
		notifier:  notifier,
		signer:    signer,
		metrics:   m,
		cfg:       cfg,
		clock:     time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

type InitializeRequest struct {
	MerchantID        string
	MerchantPassword  string
	Amount            decimal.Decimal
	Currency          string
	MerchantOrderID   string
	MerchantTimestamp time.Time
	SuccessURL        string
	FailedURL         string
	ErrorURL          string
	PaymentMethod     domain.PaymentMethod
}

type InitializeResult struct {
	Session    *domain.PaymentSession
	PaymentID  string
	PaymentURL string
	STAN       string
	Status     domain.ResultStatus
	Message    string
}

func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	log := logging.FromContext(ctx)

	if _, err := s.authenticate(ctx, req.MerchantID, req.MerchantPassword); err != nil {
		log.Warn("merchant authentication failed", "merchant_id", req.MerchantID)
		return nil, fmt.Errorf("Initialize: %w", err)
	}

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("Initialize: %w", err)
	}

	method := req.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodCard
	}
	provider, err := s.providers.Get(domain.PaymentMethod(strings.ToUpper(string(method))))
	if err != nil {
		return nil, fmt.Errorf("Initialize: %w", err)
	}
	if !provider.Available(ctx) {
		log.Warn("payment provider unavailable", "method", provider.Code())
		return nil, fmt.Errorf("Initialize: %s: %w", provider.Code(), domain.ErrProviderUnavailable)
	}

	now := s.now()
	session := &domain.PaymentSession{
		ID:                uuid.New(),
		MerchantID:        req.MerchantID,
		MerchantOrderID:   req.MerchantOrderID,
		MerchantTimestamp: req.MerchantTimestamp.UTC().Truncate(time.Microsecond),
		Amount:            req.Amount,
		Currency:          req.Currency,
		SuccessURL:        req.SuccessURL,
		FailedURL:         req.FailedURL,
		ErrorURL:          req.ErrorURL,
		STAN:              newSTAN(),
		PSPTimestamp:      now,
		PaymentMethod:     provider.Code(),
		Status:            domain.SessionStatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.SessionTTL),
		UpdatedAt:         now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("Initialize: %w", err)
	}
	s.metrics.Transition("session", string(session.Status))

	log = log.With("stan", session.STAN, "merchant_order_id", session.MerchantOrderID)
	log.Info("payment session created", "method", session.PaymentMethod, "amount", session.Amount.String())

	resp, err := provider.CreatePaymentSession(ctx, SessionRequest{
		MerchantID:   s.cfg.BankMerchantID,
		Amount:       session.Amount,
		Currency:     session.Currency,
		STAN:         session.STAN,
		PSPTimestamp: session.PSPTimestamp,
	})
	if err != nil {
		log.Error("bank session creation failed", "error", err)
		if _, rerr := s.sessions.Resolve(ctx, session, domain.SessionStatusError, nil, nil); rerr != nil {
			log.Error("failed to mark session as errored", "error", rerr)
		} else {
			s.metrics.Transition("session", string(domain.SessionStatusError))
		}
		if errors.Is(err, domain.ErrUpstream) {
			return nil, fmt.Errorf("Initialize: %w", err)
		}
		return nil, fmt.Errorf("Initialize: %w: %v", domain.ErrUpstream, err)
	}

	if err := s.sessions.MarkInitialized(ctx, session, resp.PaymentID, resp.PaymentURL); err != nil {
		return nil, fmt.Errorf("Initialize: %w", err)
	}
	s.metrics.Transition("session", string(session.Status))
	log.Info("payment session initialized", "bank_payment_id", resp.PaymentID)

	return &InitializeResult{
		Session:    session,
		PaymentID:  resp.PaymentID,
		PaymentURL: resp.PaymentURL,
		STAN:       session.STAN,
		Status:     domain.ResultSuccess,
		Message:    resp.Message,
	}, nil
}

// validate is only called once the merchant has authenticated.
func (r InitializeRequest) validate() error {
	switch {
	case !r.Amount.IsPositive():
		return fmt.Errorf("amount must be greater than 0: %w", domain.ErrInvalidRequest)
	case len(r.Currency) != 3:
		return fmt.Errorf("currency must be a 3-letter code: %w", domain.ErrInvalidRequest)
	case r.MerchantOrderID == "":
		return fmt.Errorf("merchant_order_id required: %w", domain.ErrInvalidRequest)
	case r.SuccessURL == "" || r.FailedURL == "" || r.ErrorURL == "":
		return fmt.Errorf("callback urls required: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func (s *Service) authenticate(ctx context.Context, merchantID, password string) (*domain.Merchant, error) {
	m, err := s.merchants.GetByMerchantID(ctx, merchantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorizedMerchant
		}
		return nil, err
	}
	if !m.Active {
		return nil, domain.ErrUnauthorizedMerchant
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrUnauthorizedMerchant
	}
	return m, nil
}

func newSTAN() string {
	return "PSP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

type BankCallback struct {
	STAN                string
	GlobalTransactionID string
	AcquirerTimestamp   time.Time
	Status              domain.ResultStatus
}

func (c BankCallback) Canonical() string {
	return security.Canonical(
		c.STAN,
		string(c.Status),
		c.GlobalTransactionID,
		security.FormatTimestamp(c.AcquirerTimestamp),
	)
}

type CallbackResult struct {
	Session     *domain.PaymentSession
	RedirectURL string
}

func sessionStatusFor(result domain.ResultStatus) domain.SessionStatus {
	switch result {
	case domain.ResultSuccess:
		return domain.SessionStatusSuccess
	case domain.ResultFailed:
		return domain.SessionStatusFailed
	default:
		return domain.SessionStatusError
	}
}

// HandleBankCallback records the bank's verdict and relays it to the
// merchant. A repeated callback re-notifies with the stored status.
func (s *Service) HandleBankCallback(ctx context.Context, cb BankCallback, signature string) (*CallbackResult, error) {
	log := logging.FromContext(ctx).With("stan", cb.STAN)

	if !s.signer.Verify(cb.Canonical(), signature) {
		log.Warn("bank callback signature rejected")
		return nil, fmt.Errorf("HandleBankCallback: %w", domain.ErrInvalidSignature)
	}

	session, err := s.sessions.GetBySTAN(ctx, cb.STAN)
	if err != nil {
		return nil, fmt.Errorf("HandleBankCallback: %w", err)
	}

	var gtx *string
	if cb.GlobalTransactionID != "" {
		gtx = &cb.GlobalTransactionID
	}
	var acquirerTS *time.Time
	if !cb.AcquirerTimestamp.IsZero() {
		ts := cb.AcquirerTimestamp.UTC().Truncate(time.Microsecond)
		acquirerTS = &ts
	}

	status := sessionStatusFor(cb.Status)
	changed, err := s.sessions.Resolve(ctx, session, status, gtx, acquirerTS)
	if err != nil {
		return nil, fmt.Errorf("HandleBankCallback: %w", err)
	}
	if changed {
		s.metrics.Transition("session", string(status))
		log.Info("payment session resolved", "status", status)
	} else {
		session, err = s.sessions.GetBySTAN(ctx, cb.STAN)
		if err != nil {
			return nil, fmt.Errorf("HandleBankCallback: reload: %w", err)
		}
		log.Info("duplicate bank callback", "stored_status", session.Status, "reported_status", cb.Status)
	}

	merchant, err := s.merchants.GetByMerchantID(ctx, session.MerchantID)
	if err != nil {
		log.Error("merchant lookup failed, skipping notification", "merchant_id", session.MerchantID, "error", err)
		return &CallbackResult{Session: session}, nil
	}

	return &CallbackResult{
		Session:     session,
		RedirectURL: s.notifier.Notify(ctx, merchant, session),
	}, nil
}

func (s *Service) StatusBySTAN(ctx context.Context, stan string) (*domain.PaymentSession, error) {
	session, err := s.sessions.GetBySTAN(ctx, stan)
	if err != nil {
		return nil, fmt.Errorf("StatusBySTAN: %w", err)
	}
	return s.project(session), nil
}

func (s *Service) StatusByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.PaymentSession, error) {
	session, err := s.sessions.GetLatestByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return nil, fmt.Errorf("StatusByMerchantOrderID: %w", err)
	}
	return s.project(session), nil
}

func (s *Service) project(session *domain.PaymentSession) *domain.PaymentSession {
	view := *session
	view.Status = session.EffectiveStatus(s.now())
	return &view
}

type Method struct {
	Code        domain.PaymentMethod
	Name        string
	Description string
}

func (s *Service) Methods(ctx context.Context) []Method {
	available := s.providers.Available(ctx)
	methods := make([]Method, 0, len(available))
	for _, p := range available {
		methods = append(methods, Method{Code: p.Code(), Name: p.Name(), Description: p.Description()})
	}
	return methods
}
