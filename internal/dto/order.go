package dto

import (
	"time"

	"github.com/Additional-Code/kiosk/internal/entity"
)

// CreateOrderItem is one requested line item.
type CreateOrderItem struct {
	MenuItemID          int64  `json:"menu_item_id"`
	Quantity            int    `json:"quantity"`
	FlavorID            int64  `json:"flavor_id,omitempty"`
	SizeID              int64  `json:"size_id,omitempty"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

// CreateOrderRequest is the kiosk/cashier order creation payload.
type CreateOrderRequest struct {
	OrderType           entity.OrderType     `json:"order_type"`
	OrderSource         entity.OrderSource   `json:"order_source"`
	PaymentMethod       entity.PaymentMethod `json:"payment_method"`
	CustomerID          int64                `json:"customer_id,omitempty"`
	CustomerName        string               `json:"customer_name,omitempty"`
	CustomerPhone       string               `json:"customer_phone,omitempty"`
	SpecialInstructions string               `json:"special_instructions,omitempty"`
	Items               []CreateOrderItem    `json:"items"`
}

// OrderSummary is returned after creating an order. Amounts are centavos.
type OrderSummary struct {
	OrderID                     int64  `json:"order_id"`
	OrderNumber                 string `json:"order_number"`
	VerificationCode            string `json:"verification_code"`
	TotalAmount                 int64  `json:"total_amount"`
	ItemsCount                  int    `json:"items_count"`
	EstimatedPreparationMinutes int    `json:"estimated_preparation_minutes"`
}

// UpdateStatusRequest drives the order status state machine.
type UpdateStatusRequest struct {
	Status    entity.OrderStatus `json:"status"`
	ChangedBy string             `json:"changed_by,omitempty"`
	Notes     string             `json:"notes,omitempty"`
}

// OrderResponse is an order as exposed over HTTP.
type OrderResponse struct {
	ID                          int64                `json:"id"`
	OrderNumber                 string               `json:"order_number"`
	VerificationCode            string               `json:"verification_code"`
	OrderType                   entity.OrderType     `json:"order_type"`
	OrderSource                 entity.OrderSource   `json:"order_source"`
	PaymentMethod               entity.PaymentMethod `json:"payment_method"`
	PaymentStatus               entity.PaymentStatus `json:"payment_status"`
	OrderStatus                 entity.OrderStatus   `json:"order_status"`
	Subtotal                    int64                `json:"subtotal"`
	TaxAmount                   int64                `json:"tax_amount"`
	DiscountAmount              int64                `json:"discount_amount"`
	FinalAmount                 int64                `json:"final_amount"`
	AmountPaid                  int64                `json:"amount_paid"`
	ChangeAmount                int64                `json:"change_amount"`
	EstimatedPreparationMinutes int                  `json:"estimated_preparation_minutes"`
	Items                       []OrderItemResponse  `json:"items,omitempty"`
	CreatedAt                   time.Time            `json:"created_at"`
	UpdatedAt                   time.Time            `json:"updated_at"`
}

// OrderItemResponse is a line item as exposed over HTTP.
type OrderItemResponse struct {
	ID         int64 `json:"id"`
	MenuItemID int64 `json:"menu_item_id"`
	Quantity   int   `json:"quantity"`
	UnitPrice  int64 `json:"unit_price"`
	Subtotal   int64 `json:"subtotal"`
}
