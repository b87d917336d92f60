package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/Additional-Code/kiosk/internal/entity"
)

// InsufficientError reports a stock shortage for one line item.
type InsufficientError struct {
	MenuItemID int64
	Name       string
	Requested  int
	Available  int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// Module provides the stock unit to Fx.
var Module = fx.Provide(NewUnit)

// Unit decrements inventory for an order's line items. It never opens its
// own transaction: stock must move atomically with payment confirmation,
// so every method takes the caller's bun.IDB.
type Unit struct{}

// NewUnit constructs the stock deduction unit.
func NewUnit() *Unit {
	return &Unit{}
}

// Deduct decrements stock for every line item, skipping infinite-stock
// items. A conditional UPDATE guarded on stock_quantity >= qty keeps the
// counter non-negative under concurrent confirmations; zero affected rows
// means shortage and aborts the enclosing transaction. Items emptied by
// the deduction are flipped to sold_out (never overriding discontinued)
// and returned so the caller can emit events after commit.
func (u *Unit) Deduct(ctx context.Context, db bun.IDB, items []*entity.OrderItem) ([]entity.MenuItem, error) {
	var soldOut []entity.MenuItem

	for _, line := range items {
		item := new(entity.MenuItem)
		err := db.NewSelect().Model(item).Where("id = ?", line.MenuItemID).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("menu item %d not found", line.MenuItemID)
		}
		if err != nil {
			return nil, err
		}
		if !item.TrackStock {
			continue
		}

		res, err := db.NewUpdate().Model((*entity.MenuItem)(nil)).
			Set("stock_quantity = stock_quantity - ?", line.Quantity).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", line.MenuItemID).
			Where("stock_quantity >= ?", line.Quantity).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// Re-read the counter: a concurrent confirmation may have
			// moved it since the pre-check select.
			current := new(entity.MenuItem)
			if err := db.NewSelect().Model(current).Where("id = ?", line.MenuItemID).Scan(ctx); err != nil {
				return nil, err
			}
			return nil, &InsufficientError{
				MenuItemID: item.ID,
				Name:       item.Name,
				Requested:  line.Quantity,
				Available:  current.StockQuantity,
			}
		}

		remaining := new(entity.MenuItem)
		if err := db.NewSelect().Model(remaining).Where("id = ?", line.MenuItemID).Scan(ctx); err != nil {
			return nil, err
		}
		if remaining.StockQuantity == 0 && remaining.Status != entity.MenuItemDiscontinued {
			if _, err := db.NewUpdate().Model((*entity.MenuItem)(nil)).
				Set("status = ?", entity.MenuItemSoldOut).
				Where("id = ?", line.MenuItemID).
				Where("status != ?", entity.MenuItemDiscontinued).
				Exec(ctx); err != nil {
				return nil, err
			}
			remaining.Status = entity.MenuItemSoldOut
			soldOut = append(soldOut, *remaining)
		}
	}

	return soldOut, nil
}
