package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailure PaymentStatus = "FAILURE"
)

// Payment is the outcome of one settlement attempt. It is never mutated.
type Payment struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"orderId"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	Method    string        `json:"method"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type ChargeRequest struct {
	OrderID  string
	UserID   string
	Amount   float64
	Currency string
}

type ChargeReceipt struct {
	Approved  bool
	Reference string
	Currency  string
	Method    string
}
