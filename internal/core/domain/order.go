package domain

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusFailed  OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// CanTransitionTo allows only PENDING -> PAID and PENDING -> FAILED.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && next.Terminal()
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed:
		return true
	}
	return false
}

type Order struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	Items         []json.RawMessage `json:"items"`
	TotalPrice    float64           `json:"totalPrice"`
	Subtotal      *float64          `json:"subtotal,omitempty"`
	Shipping      *float64          `json:"shipping,omitempty"`
	Tax           *float64          `json:"tax,omitempty"`
	Status        OrderStatus       `json:"status"`
	PaymentID     string            `json:"paymentId"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// BelongsTo matches the owner id or the email alias.
func (o Order) BelongsTo(identity string) bool {
	if identity == "" {
		return false
	}
	return o.UserID == identity || (o.CustomerEmail != "" && o.CustomerEmail == identity)
}

// Clone returns a copy that shares no slices or pointers with o.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]json.RawMessage, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = append(json.RawMessage(nil), it...)
		}
	}
	c.Subtotal = cloneAmount(o.Subtotal)
	c.Shipping = cloneAmount(o.Shipping)
	c.Tax = cloneAmount(o.Tax)
	return c
}

func cloneAmount(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

// OrderPatch is a partial update. A non-empty ExpectStatus makes the update
// conditional: it only applies while the stored status still equals it.
type OrderPatch struct {
	Status       *OrderStatus
	PaymentID    *string
	UpdatedAt    time.Time
	ExpectStatus OrderStatus
}

// Apply returns o with the patch fields set. The precondition is not checked here.
func (p OrderPatch) Apply(o Order) Order {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentID != nil {
		o.PaymentID = *p.PaymentID
	}
	if !p.UpdatedAt.IsZero() {
		o.UpdatedAt = p.UpdatedAt
	}
	return o
}

// OrderDetail is an order with the catalog entries its items refer to.
type OrderDetail struct {
	Order    Order              `json:"order"`
	Products map[string]Product `json:"products"`
}

// PendingCursor marks the last order of a ListPending page. Pages are ordered
// by (UpdatedAt, ID); the zero cursor starts from the oldest order.
type PendingCursor struct {
	UpdatedAt time.Time
	ID        string
}

func (c PendingCursor) IsZero() bool {
	return c.ID == "" && c.UpdatedAt.IsZero()
}

// After reports whether o sorts strictly after the cursor.
func (c PendingCursor) After(o Order) bool {
	if c.IsZero() {
		return true
	}
	if !o.UpdatedAt.Equal(c.UpdatedAt) {
		return o.UpdatedAt.After(c.UpdatedAt)
	}
	return o.ID > c.ID
}

func CursorOf(o Order) PendingCursor {
	return PendingCursor{UpdatedAt: o.UpdatedAt, ID: o.ID}
}
