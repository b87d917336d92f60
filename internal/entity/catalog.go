package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// MenuItemStatus enumerates catalog availability states.
type MenuItemStatus string

const (
	MenuItemAvailable    MenuItemStatus = "available"
	MenuItemSoldOut      MenuItemStatus = "sold_out"
	MenuItemDiscontinued MenuItemStatus = "discontinued"
)

// MenuItem is a sellable catalog entry. Price is centavos. When TrackStock
// is false the item has effectively infinite stock and is never deducted.
type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items"`

	ID             int64          `bun:",pk,autoincrement" json:"id"`
	Name           string         `bun:"name" json:"name"`
	Category       string         `bun:"category,nullzero" json:"category,omitempty"`
	Price          int64          `bun:"price" json:"price"`
	PrepMinutes    int            `bun:"prep_minutes" json:"prep_minutes"`
	IsCustomizable bool           `bun:"is_customizable" json:"is_customizable"`
	TrackStock     bool           `bun:"track_stock" json:"track_stock"`
	StockQuantity  int            `bun:"stock_quantity" json:"stock_quantity"`
	Status         MenuItemStatus `bun:"status" json:"status"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero" json:"updated_at"`
}

// ModifierKind distinguishes flavor add-ons from size multipliers.
type ModifierKind string

const (
	ModifierFlavor ModifierKind = "flavor"
	ModifierSize   ModifierKind = "size"
)

// ModifierOption customises a menu item: flavors add PriceDelta centavos,
// sizes scale the unit price by Multiplier.
type ModifierOption struct {
	bun.BaseModel `bun:"table:modifier_options"`

	ID         int64        `bun:",pk,autoincrement" json:"id"`
	Kind       ModifierKind `bun:"kind" json:"kind"`
	Name       string       `bun:"name" json:"name"`
	PriceDelta int64        `bun:"price_delta" json:"price_delta"`
	Multiplier float64      `bun:"multiplier" json:"multiplier"`
	Active     bool         `bun:"active" json:"active"`
}

// TaxRule is a percentage tax; the latest active rule by creation date
// applies. No active rule means no tax.
type TaxRule struct {
	bun.BaseModel `bun:"table:tax_rules"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	Name      string    `bun:"name" json:"name"`
	RatePct   float64   `bun:"rate_pct" json:"rate_pct"`
	Active    bool      `bun:"active" json:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// DiscountType is a percentage discount applied during cash verification.
type DiscountType struct {
	bun.BaseModel `bun:"table:discount_types"`

	ID     int64   `bun:",pk,autoincrement" json:"id"`
	Name   string  `bun:"name" json:"name"`
	Pct    float64 `bun:"pct" json:"pct"`
	Active bool    `bun:"active" json:"active"`
}

// CapacityCounter bounds the queue-aware preparation estimate for one
// business day. Maintained elsewhere; the order ledger only reads it.
type CapacityCounter struct {
	bun.BaseModel `bun:"table:capacity_counters"`

	ID              int64     `bun:",pk,autoincrement" json:"id"`
	BusinessDate    time.Time `bun:"business_date" json:"business_date"`
	MaxQueueMinutes int       `bun:"max_queue_minutes" json:"max_queue_minutes"`
}

// Customer is a registered or lightweight guest customer record.
type Customer struct {
	bun.BaseModel `bun:"table:customers"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	Name      string    `bun:"name,nullzero" json:"name,omitempty"`
	Phone     string    `bun:"phone,nullzero" json:"phone,omitempty"`
	IsGuest   bool      `bun:"is_guest" json:"is_guest"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
