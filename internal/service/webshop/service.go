// Package webshop implements the merchant side: rental orders, handing the
// shopper off to the PSP and applying the payment results it reports back.
package webshop

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/service/psp"
)

type orderRepository interface {
	Create(ctx context.Context, o *domain.RentalOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RentalOrder, error)
	GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (*domain.RentalOrder, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.RentalOrder, error)
	Claim(ctx context.Context, o *domain.RentalOrder, method string, at time.Time) error
	Release(ctx context.Context, o *domain.RentalOrder) error
	Resolve(ctx context.Context, o *domain.RentalOrder, status domain.OrderStatus, gtx *string) (bool, error)
	FindUnresolved(ctx context.Context, cutoff time.Time, limit int) ([]domain.RentalOrder, error)
}

type vehicleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Vehicle, error)
	List(ctx context.Context, availableOnly bool) ([]domain.Vehicle, error)
}

type pspGateway interface {
	Initialize(ctx context.Context, req SessionRequest) (*Session, error)
	StatusByOrder(ctx context.Context, merchantOrderID string) (*RemoteStatus, error)
}

type Config struct {
	BaseURL     string
	FrontendURL string
}

type OrderService struct {
	orders   orderRepository
	vehicles vehicleRepository
	psp      pspGateway
	signer   *security.Signer
	metrics  *metrics.Metrics
	cfg      Config
	clock    func() time.Time
}

func NewOrderService(
	orders orderRepository,
	vehicles vehicleRepository,
	gateway pspGateway,
	signer *security.Signer,
	m *metrics.Metrics,
	cfg Config,
) *OrderService {
	return &OrderService{
		orders:   orders,
		vehicles: vehicles,
		psp:      gateway,
		signer:   signer,
		metrics:  m,
		cfg:      cfg,
		clock:    time.Now,
	}
}

func (s *OrderService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *OrderService) ListVehicles(ctx context.Context, availableOnly bool) ([]domain.Vehicle, error) {
	vehicles, err := s.vehicles.List(ctx, availableOnly)
	if err != nil {
		return nil, fmt.Errorf("ListVehicles: %w", err)
	}
	return vehicles, nil
}

// RentalDays counts whole calendar days between two dates.
func RentalDays(start, end time.Time) int {
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func (s *OrderService) CreateOrder(ctx context.Context, userID, vehicleID uuid.UUID, start, end time.Time) (*domain.RentalOrder, error) {
	log := logging.FromContext(ctx)

	vehicle, err := s.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("CreateOrder: %w", domain.ErrItemUnavailable)
		}
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}
	if !vehicle.Available {
		return nil, fmt.Errorf("CreateOrder: %s: %w", vehicle.DisplayName(), domain.ErrItemUnavailable)
	}

	days := RentalDays(start, end)
	if days <= 0 {
		return nil, fmt.Errorf("CreateOrder: %d days: %w", days, domain.ErrInvalidRentalPeriod)
	}

	now := s.now()
	order := &domain.RentalOrder{
		ID:              uuid.New(),
		UserID:          userID,
		VehicleID:       vehicle.ID,
		RentalStart:     start.UTC().Truncate(24 * time.Hour),
		RentalEnd:       end.UTC().Truncate(24 * time.Hour),
		TotalPrice:      vehicle.PricePerDay.Mul(decimal.NewFromInt(int64(days))),
		Currency:        vehicle.Currency,
		Status:          domain.OrderStatusPending,
		MerchantOrderID: "WS-" + uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}
	s.metrics.Transition("order", string(order.Status))

	log.Info("rental order created",
		"order_id", order.ID,
		"merchant_order_id", order.MerchantOrderID,
		"vehicle", vehicle.DisplayName(),
		"days", days,
		"total", order.TotalPrice.StringFixed(2),
	)
	return order, nil
}

func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.RentalOrder, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.RentalOrder, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListOrders: %w", err)
	}
	return orders, nil
}

type OrderDetails struct {
	Order   *domain.RentalOrder
	Vehicle *domain.Vehicle
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderDetails, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: %w", err)
	}
	vehicle, err := s.vehicles.GetByID(ctx, order.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: vehicle: %w", err)
	}
	return &OrderDetails{Order: order, Vehicle: vehicle}, nil
}

// CheckStatus reports the order as stored, without asking the PSP.
func (s *OrderService) CheckStatus(ctx context.Context, userID, orderID uuid.UUID) (*domain.RentalOrder, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, fmt.Errorf("CheckStatus: %w", err)
	}
	return order, nil
}

type PaymentInitiation struct {
	Order      *domain.RentalOrder
	PaymentID  string
	PaymentURL string
	STAN       string
}

func (s *OrderService) callbackURL(kind string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/api/payment/callback/" + kind
}

func (s *OrderService) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID, method string) (*PaymentInitiation, error) {
	log := logging.FromContext(ctx)

	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("InitiatePayment: %s: %w", order.Status, domain.ErrOrderNotPending)
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = string(domain.PaymentMethodCard)
	}

	if err := s.orders.Claim(ctx, order, method, s.now()); err != nil {
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}
	s.metrics.Transition("order", string(order.Status))

	log = log.With("order_id", order.ID, "merchant_order_id", order.MerchantOrderID)

	session, err := s.psp.Initialize(ctx, SessionRequest{
		MerchantOrderID: order.MerchantOrderID,
		Amount:          order.TotalPrice,
		Currency:        order.Currency,
		PaymentMethod:   method,
		SuccessURL:      s.callbackURL("success"),
		FailedURL:       s.callbackURL("failed"),
		ErrorURL:        s.callbackURL("error"),
	})
	if err != nil {
		log.Error("psp initialization failed", "method", method, "error", err)
		if rerr := s.orders.Release(ctx, order); rerr != nil {
			log.Error("failed to release order claim", "error", rerr)
		}
		switch {
		case errors.Is(err, domain.ErrUnknownPaymentMethod), errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrUpstream):
			return nil, fmt.Errorf("InitiatePayment: %w", err)
		default:
			return nil, fmt.Errorf("InitiatePayment: %w: %v", domain.ErrUpstream, err)
		}
	}

	log.Info("payment initiated", "method", method, "stan", session.STAN)
	return &PaymentInitiation{
		Order:      order,
		PaymentID:  session.PaymentID,
		PaymentURL: session.PaymentURL,
		STAN:       session.STAN,
	}, nil
}

// Notification is the result the PSP reports for one of our orders.
type Notification struct {
	MerchantOrderID     string
	STAN                string
	GlobalTransactionID string
	Status              domain.SessionStatus
	Amount              decimal.Decimal
	Currency            string
}

type CallbackResult struct {
	Order       *domain.RentalOrder
	RedirectURL string
}

var callbackKinds = map[string]bool{"success": true, "failed": true, "error": true}

func (s *OrderService) HandleCallback(ctx context.Context, kind string, n Notification, signature string) (*CallbackResult, error) {
	log := logging.FromContext(ctx).With("merchant_order_id", n.MerchantOrderID, "stan", n.STAN)

	if !callbackKinds[kind] {
		return nil, fmt.Errorf("HandleCallback: kind %q: %w", kind, domain.ErrInvalidRequest)
	}

	canonical := psp.NotificationCanonical(n.MerchantOrderID, n.Status, n.Amount, n.Currency)
	if !s.signer.Verify(canonical, signature) {
		log.Warn("payment callback signature rejected")
		return nil, fmt.Errorf("HandleCallback: %w", domain.ErrInvalidSignature)
	}

	order, err := s.orders.GetByMerchantOrderID(ctx, n.MerchantOrderID)
	if err != nil {
		return nil, fmt.Errorf("HandleCallback: %w", err)
	}

	if !order.TotalPrice.Equal(n.Amount) || order.Currency != n.Currency {
		log.Error("payment callback amount mismatch",
			"expected", order.TotalPrice.StringFixed(2)+" "+order.Currency,
			"received", n.Amount.StringFixed(2)+" "+n.Currency,
		)
		return nil, fmt.Errorf("HandleCallback: %w", domain.ErrAmountMismatch)
	}

	status := domain.OrderStatusFailed
	if n.Status == domain.SessionStatusSuccess {
		status = domain.OrderStatusPaid
	}
	if expected := kindFor(status); expected != kind {
		log.Warn("callback route disagrees with signed status", "kind", kind, "status", n.Status)
	}

	var gtx *string
	if n.GlobalTransactionID != "" && status == domain.OrderStatusPaid {
		gtx = &n.GlobalTransactionID
	}

	changed, err := s.orders.Resolve(ctx, order, status, gtx)
	if err != nil {
		return nil, fmt.Errorf("HandleCallback: %w", err)
	}
	if changed {
		s.metrics.Transition("order", string(status))
		log.Info("order resolved", "order_id", order.ID, "status", status)
	} else {
		if order, err = s.orders.GetByMerchantOrderID(ctx, n.MerchantOrderID); err != nil {
			return nil, fmt.Errorf("HandleCallback: reload: %w", err)
		}
		log.Info("order already resolved", "order_id", order.ID, "stored_status", order.Status, "reported_status", n.Status)
	}

	return &CallbackResult{Order: order, RedirectURL: s.resultURL(order)}, nil
}

func kindFor(status domain.OrderStatus) string {
	if status == domain.OrderStatusPaid {
		return "success"
	}
	return "failed"
}

// resultURL is where the shopper lands once the payment is settled.
func (s *OrderService) resultURL(o *domain.RentalOrder) string {
	base := strings.TrimRight(s.cfg.FrontendURL, "/")
	q := url.Values{}
	q.Set("paymentId", o.MerchantOrderID)
	if o.Status == domain.OrderStatusPaid {
		if o.GlobalTransactionID != nil {
			q.Set("gtx", *o.GlobalTransactionID)
		}
		return base + "/payment/success?" + q.Encode()
	}
	return base + "/payment/failed?" + q.Encode()
}

// orderStatusFor maps a PSP session status onto an order status. ok is false
// for statuses that say nothing final yet.
func orderStatusFor(remote string) (domain.OrderStatus, bool) {
	switch strings.ToUpper(remote) {
	case "SUCCESS", "RESERVED", "COMPLETED":
		return domain.OrderStatusPaid, true
	case "FAILED", "ERROR", "EXPIRED":
		return domain.OrderStatusFailed, true
	}
	return "", false
}

type PollResult struct {
	Order        *domain.RentalOrder
	RemoteStatus string
	Updated      bool
}

// PollPSPStatus asks the PSP for the latest session of the order and applies
// a final answer if there is one.
func (s *OrderService) PollPSPStatus(ctx context.Context, userID, orderID uuid.UUID) (*PollResult, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, fmt.Errorf("PollPSPStatus: %w", err)
	}
	res, err := s.reconcile(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("PollPSPStatus: %w", err)
	}
	return res, nil
}

func (s *OrderService) reconcile(ctx context.Context, order *domain.RentalOrder) (*PollResult, error) {
	log := logging.FromContext(ctx).With("order_id", order.ID, "merchant_order_id", order.MerchantOrderID)

	if order.Status.IsTerminal() {
		return &PollResult{Order: order, RemoteStatus: string(order.Status)}, nil
	}

	remote, err := s.psp.StatusByOrder(ctx, order.MerchantOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &PollResult{Order: order}, nil
		}
		return nil, err
	}

	status, final := orderStatusFor(remote.Status)
	if !final {
		return &PollResult{Order: order, RemoteStatus: remote.Status}, nil
	}

	var gtx *string
	if status == domain.OrderStatusPaid {
		gtx = remote.GlobalTransactionID
	}
	changed, err := s.orders.Resolve(ctx, order, status, gtx)
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.Transition("order", string(status))
		log.Info("order reconciled from psp status", "remote_status", remote.Status, "status", status)
	}
	return &PollResult{Order: order, RemoteStatus: remote.Status, Updated: changed}, nil
}
