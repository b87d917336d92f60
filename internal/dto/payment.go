package dto

import "time"

// VerifyCashRequest is submitted by a cashier terminal. Amounts are centavos.
type VerifyCashRequest struct {
	OrderID                int64  `json:"order_id"`
	AmountTendered         int64  `json:"amount_tendered"`
	CustomerDiscountTypeID int64  `json:"customer_discount_type_id,omitempty"`
	VerifiedBy             string `json:"verified_by,omitempty"`
}

// VerifyCashResponse reports the computed change.
type VerifyCashResponse struct {
	Success      bool  `json:"success"`
	ChangeAmount int64 `json:"change_amount"`
}

// CreateInvoiceRequest asks the gateway for a payable QR invoice.
type CreateInvoiceRequest struct {
	OrderID int64 `json:"order_id"`
	Amount  int64 `json:"amount"`
}

// InvoiceResponse mirrors the gateway invoice the customer scans.
type InvoiceResponse struct {
	InvoiceID   string    `json:"invoice_id"`
	InvoiceURL  string    `json:"invoice_url"`
	QRCodeImage string    `json:"qr_code_image"`
	Amount      int64     `json:"amount"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// PaymentStatusResponse answers a polling client.
type PaymentStatusResponse struct {
	Paid          bool   `json:"paid"`
	PaymentStatus string `json:"payment_status"`
}

// WebhookPayload is the gateway's push notification body.
type WebhookPayload struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
}

// WebhookAck is always returned with HTTP 200 to stop gateway retries.
type WebhookAck struct {
	Received bool `json:"received"`
}
