package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ordersv1 "github.com/yassinshaher1/CCB/api/orders/v1"
	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/core/service"
	"github.com/yassinshaher1/CCB/internal/port"
)

type GRPCHandler struct {
	ordersv1.UnimplementedOrderServiceServer

	orders OrderAPI
	logger *slog.Logger
}

func NewGRPCHandler(orders OrderAPI, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{orders: orders, logger: logger}
}

// Register attaches the handler to a gRPC server.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	ordersv1.RegisterOrderServiceServer(s, h)
}

func (h *GRPCHandler) SubmitOrder(ctx context.Context, req *ordersv1.SubmitOrderRequest) (*ordersv1.SubmitOrderResponse, error) {
	userID := req.GetUserId()
	if p, ok := principalFrom(ctx); ok {
		if userID == "" {
			userID = p.SubjectID
		}
		if userID != p.SubjectID && !p.IsAdmin() {
			return nil, toStatus(fmt.Errorf("%w: cannot order for another user", domain.ErrForbidden))
		}
	}

	var items []json.RawMessage
	for _, it := range req.GetItems() {
		items = append(items, json.RawMessage(it))
	}

	id, err := h.orders.Submit(ctx, service.SubmitRequest{
		UserID:        userID,
		CustomerEmail: req.GetCustomerEmail(),
		Items:         items,
		TotalPrice:    req.GetTotalPrice(),
		Subtotal:      req.Subtotal,
		Shipping:      req.Shipping,
		Tax:           req.Tax,
	})
	if err != nil {
		h.logger.Warn("grpc submit failed", "error", err)
		return nil, toStatus(err)
	}

	return &ordersv1.SubmitOrderResponse{Message: orderAccepted, OrderId: id}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *ordersv1.GetOrderRequest) (*ordersv1.GetOrderResponse, error) {
	o, err := h.orders.Get(ctx, req.GetOrderId())
	if err != nil {
		return nil, toStatus(err)
	}
	if p, ok := principalFrom(ctx); ok && !p.CanView(o) {
		return nil, toStatus(fmt.Errorf("order %s: %w", o.ID, domain.ErrNotFound))
	}
	return &ordersv1.GetOrderResponse{Order: toProtoOrder(o)}, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ordersv1.ListOrdersRequest) (*ordersv1.ListOrdersResponse, error) {
	identity := strings.TrimSpace(req.GetIdentity())
	if p, ok := principalFrom(ctx); ok && !p.IsAdmin() && !p.Owns(identity) {
		return nil, toStatus(fmt.Errorf("%w: orders of another user", domain.ErrForbidden))
	}

	var (
		orders []domain.Order
		err    error
	)
	if identity == "" {
		orders, err = h.orders.ListAll(ctx)
	} else {
		orders, err = h.orders.ListByUser(ctx, identity)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &ordersv1.ListOrdersResponse{Orders: make([]*ordersv1.Order, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toProtoOrder(o))
	}
	return resp, nil
}

func toProtoOrder(o domain.Order) *ordersv1.Order {
	o = o.Clone()
	items := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, string(it))
	}
	return &ordersv1.Order{
		Id:            o.ID,
		UserId:        o.UserID,
		CustomerEmail: o.CustomerEmail,
		Items:         items,
		TotalPrice:    o.TotalPrice,
		Subtotal:      o.Subtotal,
		Shipping:      o.Shipping,
		Tax:           o.Tax,
		Status:        string(o.Status),
		PaymentId:     o.PaymentID,
		CreatedAt:     formatTime(o.CreatedAt),
		UpdatedAt:     formatTime(o.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toStatus(err error) error {
	return status.Error(grpcCode(err), err.Error())
}

// AuthUnaryInterceptor resolves the "authorization: Bearer <token>" metadata
// into a principal, the gRPC counterpart of the HTTP auth middleware.
func AuthUnaryInterceptor(auth port.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, toStatus(fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized))
		}

		token, found := strings.CutPrefix(values[0], "Bearer ")
		if !found {
			return nil, toStatus(fmt.Errorf("%w: invalid token format", domain.ErrUnauthorized))
		}

		p, err := auth.AuthenticateBearer(ctx, strings.TrimSpace(token))
		if err != nil {
			return nil, toStatus(err)
		}
		return handler(context.WithValue(ctx, principalCtxKey, p), req)
	}
}
