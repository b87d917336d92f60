package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// OrderType categorises how the order is fulfilled.
type OrderType string

const (
	OrderTypeDineIn      OrderType = "dine_in"
	OrderTypeTakeout     OrderType = "takeout"
	OrderTypeDelivery    OrderType = "delivery"
	OrderTypeCustomOrder OrderType = "custom_order"
)

// OrderSource identifies the terminal that created the order.
type OrderSource string

const (
	OrderSourceKiosk   OrderSource = "kiosk"
	OrderSourceCashier OrderSource = "cashier"
)

// PaymentMethod selects the tender verification protocol.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCashless PaymentMethod = "cashless"
)

// PaymentStatus tracks whether the order has been paid.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// OrderStatus enumerates the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a customer order. All monetary amounts are centavos.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID               int64         `bun:",pk,autoincrement" json:"id"`
	OrderNumber      string        `bun:"order_number" json:"order_number"`
	VerificationCode string        `bun:"verification_code" json:"verification_code"`
	OrderType        OrderType     `bun:"order_type" json:"order_type"`
	OrderSource      OrderSource   `bun:"order_source" json:"order_source"`
	PaymentMethod    PaymentMethod `bun:"payment_method" json:"payment_method"`
	PaymentStatus    PaymentStatus `bun:"payment_status" json:"payment_status"`
	OrderStatus      OrderStatus   `bun:"order_status" json:"order_status"`

	CustomerID     int64 `bun:"customer_id,nullzero" json:"customer_id,omitempty"`
	Subtotal       int64 `bun:"subtotal" json:"subtotal"`
	TaxAmount      int64 `bun:"tax_amount" json:"tax_amount"`
	DiscountAmount int64 `bun:"discount_amount" json:"discount_amount"`
	FinalAmount    int64 `bun:"final_amount" json:"final_amount"`
	AmountPaid     int64 `bun:"amount_paid" json:"amount_paid"`
	ChangeAmount   int64 `bun:"change_amount" json:"change_amount"`
	DiscountTypeID int64 `bun:"discount_type_id,nullzero" json:"discount_type_id,omitempty"`

	// PaymentReference is the cashless gateway invoice id once one exists.
	PaymentReference  string     `bun:"payment_reference,nullzero" json:"payment_reference,omitempty"`
	PaymentVerifiedAt *time.Time `bun:"payment_verified_at,nullzero" json:"payment_verified_at,omitempty"`
	VerifiedBy        string     `bun:"verified_by,nullzero" json:"verified_by,omitempty"`
	QRScannedAt       *time.Time `bun:"qr_scanned_at,nullzero" json:"qr_scanned_at,omitempty"`

	EstimatedPreparationMinutes int    `bun:"estimated_preparation_minutes" json:"estimated_preparation_minutes"`
	SpecialInstructions         string `bun:"special_instructions,nullzero" json:"special_instructions,omitempty"`
	IsDeleted                   bool   `bun:"is_deleted" json:"-"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

// IsTerminal reports whether the order can no longer change status.
func (o *Order) IsTerminal() bool {
	return o.OrderStatus == OrderStatusCompleted || o.OrderStatus == OrderStatusCancelled
}

// OrderItem is a priced line item; unit price and subtotal are snapshots
// taken at creation time and never follow later catalog price changes.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID                  int64     `bun:",pk,autoincrement" json:"id"`
	OrderID             int64     `bun:"order_id" json:"order_id"`
	MenuItemID          int64     `bun:"menu_item_id" json:"menu_item_id"`
	Quantity            int       `bun:"quantity" json:"quantity"`
	FlavorID            int64     `bun:"flavor_id,nullzero" json:"flavor_id,omitempty"`
	SizeID              int64     `bun:"size_id,nullzero" json:"size_id,omitempty"`
	UnitPrice           int64     `bun:"unit_price" json:"unit_price"`
	Subtotal            int64     `bun:"subtotal" json:"subtotal"`
	SpecialInstructions string    `bun:"special_instructions,nullzero" json:"special_instructions,omitempty"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// PaymentTransaction is an append-only audit row for a completed payment
// attempt. The order's payment_status remains the source of truth for
// "already paid"; multiple rows exist only after retries.
type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions"`

	ID          int64         `bun:",pk,autoincrement" json:"id"`
	OrderID     int64         `bun:"order_id" json:"order_id"`
	Method      PaymentMethod `bun:"method" json:"method"`
	Amount      int64         `bun:"amount" json:"amount"`
	Reference   string        `bun:"reference,nullzero" json:"reference,omitempty"`
	Source      string        `bun:"source" json:"source"`
	ProcessedBy string        `bun:"processed_by,nullzero" json:"processed_by,omitempty"`
	Status      string        `bun:"status" json:"status"`
	CompletedAt time.Time     `bun:"completed_at,nullzero" json:"completed_at"`
}

// PaymentTransaction sources.
const (
	PaymentSourceCash    = "cash"
	PaymentSourceWebhook = "webhook"
	PaymentSourcePolling = "polling"
)

// TimelineEntry records one order_status transition. Append-only.
type TimelineEntry struct {
	bun.BaseModel `bun:"table:order_timeline"`

	ID         int64       `bun:",pk,autoincrement" json:"id"`
	OrderID    int64       `bun:"order_id" json:"order_id"`
	FromStatus OrderStatus `bun:"from_status" json:"from_status"`
	ToStatus   OrderStatus `bun:"to_status" json:"to_status"`
	ChangedBy  string      `bun:"changed_by,nullzero" json:"changed_by,omitempty"`
	Notes      string      `bun:"notes,nullzero" json:"notes,omitempty"`
	CreatedAt  time.Time   `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
