package domain

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

const ordersPath = "orders/"

// ChangeEvent is one notification from the order store: the record at Path
// was created or updated and Order holds its current value.
type ChangeEvent struct {
	Path    string     `json:"path"`
	Kind    ChangeKind `json:"kind"`
	OrderID string     `json:"orderId"`
	Order   Order      `json:"order"`
}

func NewChangeEvent(kind ChangeKind, o Order) ChangeEvent {
	return ChangeEvent{
		Path:    OrderPath(o.ID),
		Kind:    kind,
		OrderID: o.ID,
		Order:   o,
	}
}

func OrderPath(id string) string {
	return ordersPath + id
}

// Actionable reports whether the event should trigger settlement.
func (e ChangeEvent) Actionable() bool {
	if e.Kind != ChangeCreated && e.Kind != ChangeUpdated {
		return false
	}
	return e.OrderID != "" && e.Order.Status == OrderStatusPending
}
