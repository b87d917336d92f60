package order

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/Additional-Code/kiosk/internal/database"
	"github.com/Additional-Code/kiosk/internal/entity"
	"github.com/Additional-Code/kiosk/internal/repository/stock"
)

func newTestRepository(t *testing.T) (*Repository, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A single connection keeps every transaction on the same in-memory
	// database.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	models := []any{
		(*entity.Customer)(nil),
		(*entity.MenuItem)(nil),
		(*entity.Order)(nil),
		(*entity.OrderItem)(nil),
		(*entity.PaymentTransaction)(nil),
		(*entity.TimelineEntry)(nil),
	}
	for _, model := range models {
		_, err := db.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}

	conns := &database.Connections{Writer: db, Reader: db}
	return NewRepository(conns, stock.NewUnit()), db
}

func seedMenuItem(t *testing.T, db *bun.DB, name string, quantity int, prepMinutes int) *entity.MenuItem {
	t.Helper()
	item := &entity.MenuItem{
		Name:          name,
		Price:         10000,
		PrepMinutes:   prepMinutes,
		TrackStock:    true,
		StockQuantity: quantity,
		Status:        entity.MenuItemAvailable,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := db.NewInsert().Model(item).Exec(context.Background())
	require.NoError(t, err)
	return item
}

func buildOrder(number string, itemID int64, qty int) *entity.Order {
	subtotal := int64(qty) * 10000
	return &entity.Order{
		OrderNumber:      number,
		VerificationCode: "482913",
		OrderType:        entity.OrderTypeDineIn,
		OrderSource:      entity.OrderSourceKiosk,
		PaymentMethod:    entity.PaymentMethodCashless,
		PaymentStatus:    entity.PaymentStatusUnpaid,
		OrderStatus:      entity.OrderStatusPending,
		Subtotal:         subtotal,
		FinalAmount:      subtotal,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
		Items: []*entity.OrderItem{{
			MenuItemID: itemID,
			Quantity:   qty,
			UnitPrice:  10000,
			Subtotal:   subtotal,
			CreatedAt:  time.Now().UTC(),
		}},
	}
}

func stockQuantity(t *testing.T, db *bun.DB, itemID int64) int {
	t.Helper()
	item := new(entity.MenuItem)
	require.NoError(t, db.NewSelect().Model(item).Where("id = ?", itemID).Scan(context.Background()))
	return item.StockQuantity
}

func TestCreateAndLookup(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 10, 15)

	order := buildOrder("ORD-20260829-0001", item.ID, 2)
	guest := &entity.Customer{Name: "Dana", IsGuest: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, order, guest))
	require.NotZero(t, order.ID)
	assert.Equal(t, guest.ID, order.CustomerID)

	byID, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260829-0001", byID.OrderNumber)
	require.Len(t, byID.Items, 1)
	assert.Equal(t, item.ID, byID.Items[0].MenuItemID)
	assert.Equal(t, 2, byID.Items[0].Quantity)

	byNumber, err := repo.GetByNumber(ctx, "ORD-20260829-0001")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)
	require.Len(t, byNumber.Items, 1)

	_, err = repo.GetByID(ctx, order.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByNumber(ctx, "ORD-00000000-0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupSkipsSoftDeleted(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 10, 15)

	order := buildOrder("ORD-20260829-0002", item.ID, 1)
	require.NoError(t, repo.Create(ctx, order, nil))

	_, err := db.NewUpdate().Model((*entity.Order)(nil)).
		Set("is_deleted = ?", true).
		Where("id = ?", order.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByNumber(ctx, order.OrderNumber)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmCashlessDeductsStockExactlyOnce(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 2, 15)

	order := buildOrder("ORD-20260829-0003", item.ID, 2)
	require.NoError(t, repo.Create(ctx, order, nil))

	soldOut, err := repo.ConfirmCashless(ctx, order, entity.PaymentSourceWebhook, "inv-1")
	require.NoError(t, err)
	require.Len(t, soldOut, 1)
	assert.Equal(t, entity.MenuItemSoldOut, soldOut[0].Status)
	assert.Equal(t, 0, stockQuantity(t, db, item.ID))

	confirmed, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusConfirmed, confirmed.OrderStatus)
	assert.Equal(t, entity.PaymentStatusPaid, confirmed.PaymentStatus)
	assert.Equal(t, confirmed.FinalAmount, confirmed.AmountPaid)
	require.NotNil(t, confirmed.PaymentVerifiedAt)

	// The polling path arriving second must lose the claim and leave
	// stock alone.
	_, err = repo.ConfirmCashless(ctx, order, entity.PaymentSourcePolling, "inv-1")
	assert.ErrorIs(t, err, ErrAlreadyReconciled)
	assert.Equal(t, 0, stockQuantity(t, db, item.ID))

	count, err := db.NewSelect().Model((*entity.PaymentTransaction)(nil)).
		Where("order_id = ?", order.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	timeline, err := repo.Timeline(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, entity.OrderStatusPending, timeline[0].FromStatus)
	assert.Equal(t, entity.OrderStatusConfirmed, timeline[0].ToStatus)
}

func TestConfirmCashlessConcurrentClaim(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 5, 15)

	order := buildOrder("ORD-20260829-0004", item.ID, 1)
	require.NoError(t, repo.Create(ctx, order, nil))

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i, source := range []string{entity.PaymentSourceWebhook, entity.PaymentSourcePolling} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = repo.ConfirmCashless(ctx, order, source, "inv-2")
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyReconciled)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 4, stockQuantity(t, db, item.ID))

	count, err := db.NewSelect().Model((*entity.PaymentTransaction)(nil)).
		Where("order_id = ?", order.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfirmCashlessStockShortageRollsBack(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 1, 15)

	order := buildOrder("ORD-20260829-0005", item.ID, 3)
	require.NoError(t, repo.Create(ctx, order, nil))

	_, err := repo.ConfirmCashless(ctx, order, entity.PaymentSourceWebhook, "inv-3")
	var shortage *stock.InsufficientError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, item.ID, shortage.MenuItemID)
	assert.Equal(t, 3, shortage.Requested)
	assert.Equal(t, 1, shortage.Available)

	// The whole claim rolled back: order still pending and unpaid, stock
	// untouched, no audit rows.
	after, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, after.OrderStatus)
	assert.Equal(t, entity.PaymentStatusUnpaid, after.PaymentStatus)
	assert.Equal(t, 1, stockQuantity(t, db, item.ID))

	count, err := db.NewSelect().Model((*entity.PaymentTransaction)(nil)).
		Where("order_id = ?", order.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConfirmCash(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 5, 15)

	order := buildOrder("ORD-20260829-0006", item.ID, 1)
	order.PaymentMethod = entity.PaymentMethodCash
	require.NoError(t, repo.Create(ctx, order, nil))

	_, err := repo.ConfirmCash(ctx, order, CashConfirmation{
		OrderID:        order.ID,
		FinalAmount:    10000,
		AmountTendered: 12000,
		ChangeAmount:   2000,
		VerifiedBy:     "cashier-1",
	})
	require.NoError(t, err)

	confirmed, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusConfirmed, confirmed.OrderStatus)
	assert.Equal(t, entity.PaymentStatusPaid, confirmed.PaymentStatus)
	assert.Equal(t, int64(12000), confirmed.AmountPaid)
	assert.Equal(t, int64(2000), confirmed.ChangeAmount)
	assert.Equal(t, "cashier-1", confirmed.VerifiedBy)
	assert.Equal(t, 4, stockQuantity(t, db, item.ID))

	_, err = repo.ConfirmCash(ctx, order, CashConfirmation{OrderID: order.ID, FinalAmount: 10000, AmountTendered: 10000})
	assert.ErrorIs(t, err, ErrAlreadyReconciled)
}

func TestMarkQRScannedOnlyOnce(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 5, 15)

	order := buildOrder("ORD-20260829-0007", item.ID, 1)
	require.NoError(t, repo.Create(ctx, order, nil))

	recorded, err := repo.MarkQRScanned(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, recorded)

	first, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, first.QRScannedAt)

	recorded, err = repo.MarkQRScanned(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, recorded)

	second, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, second.QRScannedAt)
	assert.Equal(t, first.QRScannedAt, second.QRScannedAt)
}

func TestUpdateStatusGuardsCurrentState(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	item := seedMenuItem(t, db, "Classic Burger", 5, 15)

	order := buildOrder("ORD-20260829-0008", item.ID, 1)
	require.NoError(t, repo.Create(ctx, order, nil))

	err := repo.UpdateStatus(ctx, order.ID, entity.OrderStatusConfirmed, entity.OrderStatusPreparing, "kitchen", "", false)
	assert.ErrorIs(t, err, ErrAlreadyReconciled)

	require.NoError(t, repo.UpdateStatus(ctx, order.ID, entity.OrderStatusPending, entity.OrderStatusConfirmed, "cashier-1", "cash payment verified", true))

	confirmed, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusConfirmed, confirmed.OrderStatus)
	assert.Equal(t, entity.PaymentStatusPaid, confirmed.PaymentStatus)

	timeline, err := repo.Timeline(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, "cashier-1", timeline[0].ChangedBy)
}

func TestQueuedPrepMinutes(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	burger := seedMenuItem(t, db, "Classic Burger", 10, 15)
	fries := seedMenuItem(t, db, "Fries", 10, 5)

	first := buildOrder("ORD-20260829-0009", burger.ID, 2)
	require.NoError(t, repo.Create(ctx, first, nil))
	second := buildOrder("ORD-20260829-0010", fries.ID, 1)
	require.NoError(t, repo.Create(ctx, second, nil))

	done := buildOrder("ORD-20260829-0011", burger.ID, 1)
	done.OrderStatus = entity.OrderStatusCompleted
	require.NoError(t, repo.Create(ctx, done, nil))

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	total, err := repo.QueuedPrepMinutes(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 20, total)
}
