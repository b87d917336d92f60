package events

import (
	"encoding/json"
	"time"

	"github.com/Additional-Code/kiosk/internal/entity"
)

// Event type names as delivered to terminals and onto the message bus.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypePaymentConfirmed   = "payment.confirmed"
	TypePaymentQRScanned   = "payment.qr_scanned"
	TypeMenuSoldOut        = "menu.sold_out"
)

// Envelope is the wire format published to the message bus. The local
// broadcast hub receives the payload directly; the bus copy lets other
// instances and background workers source the same stream.
type Envelope struct {
	Channel    string          `json:"channel"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	TargetUser string          `json:"target_user,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// OrderCreated is emitted after an order creation transaction commits.
type OrderCreated struct {
	OrderID                     int64              `json:"order_id"`
	OrderNumber                 string             `json:"order_number"`
	OrderType                   entity.OrderType   `json:"order_type"`
	OrderSource                 entity.OrderSource `json:"order_source"`
	FinalAmount                 int64              `json:"final_amount"`
	ItemsCount                  int                `json:"items_count"`
	EstimatedPreparationMinutes int                `json:"estimated_preparation_minutes"`
	CreatedAt                   time.Time          `json:"created_at"`
}

// OrderStatusChanged is emitted on every order status transition.
type OrderStatusChanged struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	FromStatus  entity.OrderStatus `json:"from_status"`
	ToStatus    entity.OrderStatus `json:"to_status"`
	ChangedBy   string             `json:"changed_by,omitempty"`
}

// PaymentConfirmed is emitted exactly once per order when payment is
// verified, regardless of how many confirmation paths fired.
type PaymentConfirmed struct {
	OrderID      int64                `json:"order_id"`
	OrderNumber  string               `json:"order_number"`
	Method       entity.PaymentMethod `json:"method"`
	Amount       int64                `json:"amount"`
	ChangeAmount int64                `json:"change_amount"`
	Source       string               `json:"source"`
}

// PaymentQRScanned marks that the customer scanned the cashless QR.
type PaymentQRScanned struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// MenuSoldOut is emitted when a stock deduction empties an item.
type MenuSoldOut struct {
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name"`
}
