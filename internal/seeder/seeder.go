package seeder

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/database"
	"github.com/Additional-Code/kiosk/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Catalog seeds the menu, modifiers, tax rule and discount types if they
// are missing.
func (s *Seeder) Catalog(ctx context.Context) error {
	now := time.Now().UTC()

	items := []entity.MenuItem{
		{Name: "Classic Burger", Category: "mains", Price: 12000, PrepMinutes: 8, TrackStock: true, StockQuantity: 40, Status: entity.MenuItemAvailable, CreatedAt: now, UpdatedAt: now},
		{Name: "Iced Coffee", Category: "drinks", Price: 9500, PrepMinutes: 3, TrackStock: false, Status: entity.MenuItemAvailable, CreatedAt: now, UpdatedAt: now},
		{Name: "Custom Cake", Category: "custom-cakes", Price: 75000, PrepMinutes: 45, IsCustomizable: true, TrackStock: true, StockQuantity: 5, Status: entity.MenuItemAvailable, CreatedAt: now, UpdatedAt: now},
	}
	for i := range items {
		item := items[i]
		if _, err := s.db.NewInsert().Model(&item).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
	}

	modifiers := []entity.ModifierOption{
		{Kind: entity.ModifierFlavor, Name: "Ube", PriceDelta: 5000, Multiplier: 1, Active: true},
		{Kind: entity.ModifierFlavor, Name: "Chocolate", PriceDelta: 3000, Multiplier: 1, Active: true},
		{Kind: entity.ModifierSize, Name: "8 inch", Multiplier: 1, Active: true},
		{Kind: entity.ModifierSize, Name: "10 inch", Multiplier: 1.5, Active: true},
	}
	for i := range modifiers {
		modifier := modifiers[i]
		if _, err := s.db.NewInsert().Model(&modifier).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
	}

	tax := entity.TaxRule{Name: "VAT", RatePct: 12, Active: true, CreatedAt: now}
	if _, err := s.db.NewInsert().Model(&tax).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx); err != nil {
		return err
	}

	discounts := []entity.DiscountType{
		{Name: "Senior Citizen", Pct: 20, Active: true},
		{Name: "PWD", Pct: 20, Active: true},
	}
	for i := range discounts {
		discount := discounts[i]
		if _, err := s.db.NewInsert().Model(&discount).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded catalog",
			zap.Int("menu_items", len(items)),
			zap.Int("modifiers", len(modifiers)),
			zap.Int("discounts", len(discounts)),
		)
	}
	return nil
}
