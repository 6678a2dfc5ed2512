package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/core/service"
	"github.com/yassinshaher1/CCB/internal/port"
)

const (
	maxBodyBytes    = 1 << 20
	orderAccepted   = "Order received! Processing payment..."
	principalCtxKey = contextKey("principal")
)

type contextKey string

// OrderAPI is the part of the order service exposed over HTTP and gRPC.
type OrderAPI interface {
	Submit(ctx context.Context, req service.SubmitRequest) (string, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	Describe(ctx context.Context, id string) (domain.OrderDetail, error)
	ListByUser(ctx context.Context, identity string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
}

type HTTPHandler struct {
	orders OrderAPI
	auth   port.Authenticator
	logger *slog.Logger
}

// NewHTTPHandler builds the REST surface. With a nil auth every route is public.
func NewHTTPHandler(orders OrderAPI, auth port.Authenticator, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{orders: orders, auth: auth, logger: logger}
}

type SubmitOrderHTTPRequest struct {
	UserID        string          `json:"userId"`
	CustomerEmail string          `json:"customerEmail"`
	Items         json.RawMessage `json:"items"`
	CartItems     json.RawMessage `json:"cartItems"`
	TotalPrice    *float64        `json:"totalPrice"`
	Subtotal      *float64        `json:"subtotal"`
	Shipping      *float64        `json:"shipping"`
	Tax           *float64        `json:"tax"`
}

type SubmitOrderHTTPResponse struct {
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Kind   string          `json:"kind"`
	Orders *[]domain.Order `json:"orders,omitempty"`
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.authMiddleware)
		}
		r.Post("/order", h.SubmitOrder)
		r.Get("/order/{id}", h.GetOrder)
		r.Get("/orders", h.ListAllOrders)
		r.Get("/orders/{identity}", h.ListOrders)
	})

	return r
}

func (h *HTTPHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderHTTPRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	if p, ok := principalFrom(r.Context()); ok {
		if req.UserID == "" {
			req.UserID = p.SubjectID
		}
		if req.UserID != p.SubjectID && !p.IsAdmin() {
			writeError(w, fmt.Errorf("%w: cannot order for another user", domain.ErrForbidden))
			return
		}
	}

	if req.TotalPrice == nil {
		writeError(w, fmt.Errorf("%w: totalPrice is required", domain.ErrValidation))
		return
	}

	items, err := decodeItems(req.Items, req.CartItems)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := h.orders.Submit(r.Context(), service.SubmitRequest{
		UserID:        req.UserID,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
		TotalPrice:    *req.TotalPrice,
		Subtotal:      req.Subtotal,
		Shipping:      req.Shipping,
		Tax:           req.Tax,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			h.logger.Error("order submit failed", "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitOrderHTTPResponse{Message: orderAccepted, OrderID: id})
}

// decodeItems accepts items as an array, or cartItems as an array or an
// object keyed by product id. Object entries keep their key order.
func decodeItems(items, cartItems json.RawMessage) ([]json.RawMessage, error) {
	raw := items
	if isAbsent(raw) {
		raw = cartItems
	}
	if isAbsent(raw) {
		return []json.RawMessage{}, nil
	}

	switch bytes.TrimSpace(raw)[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: items: %v", domain.ErrValidation, err)
		}
		return list, nil
	case '{':
		om := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(raw, om); err != nil {
			return nil, fmt.Errorf("%w: cartItems: %v", domain.ErrValidation, err)
		}
		list := make([]json.RawMessage, 0, om.Len())
		for pair := om.Oldest(); pair != nil; pair = pair.Next() {
			entry, err := json.Marshal(struct {
				ID   string          `json:"id"`
				Item json.RawMessage `json:"item"`
			}{ID: pair.Key, Item: pair.Value})
			if err != nil {
				return nil, fmt.Errorf("%w: cartItems[%s]: %v", domain.ErrValidation, pair.Key, err)
			}
			list = append(list, entry)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("%w: items must be an array or an object", domain.ErrValidation)
	}
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.orders.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if p, ok := principalFrom(r.Context()); ok && !p.CanView(detail.Order) {
		writeError(w, fmt.Errorf("order %s: %w", detail.Order.ID, domain.ErrNotFound))
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(chi.URLParam(r, "identity"))

	if p, ok := principalFrom(r.Context()); ok && !p.IsAdmin() && !p.Owns(identity) {
		writeError(w, fmt.Errorf("%w: orders of another user", domain.ErrForbidden))
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), identity)
	if err != nil {
		writeListError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	if p, ok := principalFrom(r.Context()); ok && !p.IsAdmin() {
		writeError(w, fmt.Errorf("%w: admin role required", domain.ErrForbidden))
		return
	}

	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		writeListError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, fmt.Errorf("%w: invalid token format", domain.ErrUnauthorized))
			return
		}

		p, err := h.auth.AuthenticateBearer(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalCtxKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(domain.Principal)
	return p, ok
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorResponse{Error: err.Error(), Kind: errorKind(err)})
}

// writeListError keeps an empty orders array in the body so list clients
// can render "nothing" while still seeing the failure.
func writeListError(w http.ResponseWriter, err error) {
	empty := []domain.Order{}
	writeJSON(w, httpStatus(err), errorResponse{Error: err.Error(), Kind: errorKind(err), Orders: &empty})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
