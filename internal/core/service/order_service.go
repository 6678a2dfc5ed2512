package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const defaultStoreTimeout = 5 * time.Second

type SubmitRequest struct {
	UserID        string
	CustomerEmail string
	Items         []json.RawMessage
	TotalPrice    float64
	Subtotal      *float64
	Shipping      *float64
	Tax           *float64
}

type OrderService struct {
	orders       port.OrderRepository
	catalog      port.CatalogRepository
	storeTimeout time.Duration
	logger       *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewOrderService wires the service to its store. catalog may be nil, in
// which case Describe returns orders without product details.
func NewOrderService(orders port.OrderRepository, catalog port.CatalogRepository, storeTimeout time.Duration, logger *slog.Logger) *OrderService {
	if orders == nil {
		panic("service.NewOrderService: nil order repository")
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		orders:       orders,
		catalog:      catalog,
		storeTimeout: storeTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:        uuid.NewString,
	}
}

// Submit validates the request and stores a new PENDING order. The insert is
// the event the settlement listener reacts to.
func (s *OrderService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)

	if err := validateSubmit(req); err != nil {
		return "", err
	}

	items := req.Items
	if items == nil {
		items = []json.RawMessage{}
	}

	now := s.now()
	order := domain.Order{
		ID:            s.newID(),
		UserID:        req.UserID,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
		TotalPrice:    req.TotalPrice,
		Subtotal:      req.Subtotal,
		Shipping:      req.Shipping,
		Tax:           req.Tax,
		Status:        domain.OrderStatusPending,
		PaymentID:     "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	id, err := s.orders.Insert(ctx, order)
	if err != nil {
		return "", fmt.Errorf("submit order: %w", classifyStoreErr(err))
	}

	s.logger.Info("order submitted", "order_id", id, "user_id", order.UserID, "total_price", order.TotalPrice)
	return id, nil
}

func validateSubmit(req SubmitRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if err := validateAmount("totalPrice", &req.TotalPrice); err != nil {
		return err
	}
	if err := validateAmount("subtotal", req.Subtotal); err != nil {
		return err
	}
	if err := validateAmount("shipping", req.Shipping); err != nil {
		return err
	}
	if err := validateAmount("tax", req.Tax); err != nil {
		return err
	}
	for i, it := range req.Items {
		if !json.Valid(it) {
			return fmt.Errorf("%w: items[%d] is not valid JSON", domain.ErrValidation, i)
		}
	}
	return nil
}

func validateAmount(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", domain.ErrValidation, field)
	}
	if *v < 0 {
		return fmt.Errorf("%w: %s must not be negative", domain.ErrValidation, field)
	}
	return nil
}

func (s *OrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, classifyStoreErr(err)
	}
	return o, nil
}

// Describe returns the order with the catalog products its items reference.
// Catalog lookups are best effort and never fail the call.
func (s *OrderService) Describe(ctx context.Context, id string) (domain.OrderDetail, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	detail := domain.OrderDetail{Order: o, Products: map[string]domain.Product{}}
	if s.catalog == nil {
		return detail, nil
	}

	for _, productID := range referencedProducts(o.Items) {
		if _, done := detail.Products[productID]; done {
			continue
		}
		lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		p, err := s.catalog.GetProduct(lookupCtx, productID)
		cancel()
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("catalog lookup failed", "order_id", id, "product_id", productID, "error", err)
			}
			continue
		}
		detail.Products[productID] = p
	}
	return detail, nil
}

// referencedProducts extracts productId (or id) fields from object items.
func referencedProducts(items []json.RawMessage) []string {
	var ids []string
	for _, raw := range items {
		var ref struct {
			ProductID string `json:"productId"`
			ID        string `json:"id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			continue
		}
		switch {
		case ref.ProductID != "":
			ids = append(ids, ref.ProductID)
		case ref.ID != "":
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// ListByUser returns the orders of identity, newest first. On a store
// failure it returns an empty slice together with an error wrapping
// domain.ErrStoreUnavailable, so callers can tell "no orders" from "store down".
func (s *OrderService) ListByUser(ctx context.Context, identity string) ([]domain.Order, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return []domain.Order{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	orders, err := s.orders.ListByUser(ctx, identity)
	if err != nil {
		s.logger.Error("list orders by user failed", "identity", identity, "error", err)
		return []domain.Order{}, fmt.Errorf("list orders for %s: %w", identity, unavailable(err))
	}
	return sortNewestFirst(orders), nil
}

// ListAll is the administrative view with the same contract as ListByUser.
func (s *OrderService) ListAll(ctx context.Context) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	all, err := s.orders.GetAll(ctx)
	if err != nil {
		s.logger.Error("list all orders failed", "error", err)
		return []domain.Order{}, fmt.Errorf("list orders: %w", unavailable(err))
	}

	orders := make([]domain.Order, 0, len(all))
	for _, o := range all {
		orders = append(orders, o)
	}
	return sortNewestFirst(orders), nil
}

func sortNewestFirst(orders []domain.Order) []domain.Order {
	if orders == nil {
		return []domain.Order{}
	}
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return orders
}

// classifyStoreErr keeps domain errors and marks everything else as an unavailable store.
func classifyStoreErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	default:
		return unavailable(err)
	}
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
