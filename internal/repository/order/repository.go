package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/kiosk/internal/database"
	"github.com/Additional-Code/kiosk/internal/entity"
	"github.com/Additional-Code/kiosk/internal/repository/stock"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/kiosk/repository/order")

var (
	// ErrNotFound is returned when an order is missing or soft-deleted.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyReconciled means the order already left pending when a
	// confirmation path tried to claim it. Callers treat this as a
	// successful no-op, not a failure.
	ErrAlreadyReconciled = errors.New("order already reconciled")
)

// Repository owns order persistence: creation, the paid transition and
// its audit rows. The database transaction is the only synchronization
// primitive for the webhook/poll race; there is no in-process lock keyed
// by order id.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
	stock  *stock.Unit
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections, unit *stock.Unit) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
		stock:  unit,
	}
}

// Create persists a new order with its line items, and the guest customer
// when one was assembled, in a single transaction.
func (r *Repository) Create(ctx context.Context, order *entity.Order, guest *entity.Customer) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.number", order.OrderNumber)))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if guest != nil {
			if _, err := tx.NewInsert().Model(guest).Exec(ctx); err != nil {
				return err
			}
			order.CustomerID = guest.ID
		}
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		for _, item := range order.Items {
			item.OrderID = order.ID
		}
		if len(order.Items) > 0 {
			if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches an order with its items, skipping soft-deleted rows.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).
		Relation("Items").
		Where("id = ?", id).
		Where("is_deleted = ?", false).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// GetByNumber locates an order by its business-facing number; used by the
// webhook handler to resolve the gateway's external reference.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByNumber", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).
		Relation("Items").
		Where("order_number = ?", number).
		Where("is_deleted = ?", false).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

// QueuedPrepMinutes sums the preparation minutes of every item belonging
// to orders still pending or preparing in the given window. Feeds the
// queue-aware preparation estimate.
func (r *Repository) QueuedPrepMinutes(ctx context.Context, from, to time.Time) (int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.QueuedPrepMinutes")
	defer span.End()

	var total int
	err := r.reader.NewSelect().
		TableExpr("order_items AS oi").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Join("JOIN menu_items AS mi ON mi.id = oi.menu_item_id").
		ColumnExpr("COALESCE(SUM(mi.prep_minutes), 0)").
		Where("o.order_status IN (?)", bun.In([]entity.OrderStatus{entity.OrderStatusPending, entity.OrderStatusPreparing})).
		Where("o.created_at >= ?", from).
		Where("o.created_at < ?", to).
		Where("o.is_deleted = ?", false).
		Scan(ctx, &total)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return total, nil
}

// CashConfirmation carries the verified figures for a cash payment.
type CashConfirmation struct {
	OrderID        int64
	DiscountTypeID int64
	DiscountAmount int64
	FinalAmount    int64
	AmountTendered int64
	ChangeAmount   int64
	VerifiedBy     string
}

// ConfirmCash applies a staff-verified cash payment atomically: claim the
// pending order, deduct stock, record the transaction and the timeline
// entry. Returns the items the deduction sold out.
func (r *Repository) ConfirmCash(ctx context.Context, order *entity.Order, conf CashConfirmation) ([]entity.MenuItem, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ConfirmCash", trace.WithAttributes(attribute.Int64("order.id", conf.OrderID)))
	defer span.End()

	now := time.Now().UTC()
	var soldOut []entity.MenuItem

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		claimed, err := r.claimPending(ctx, tx, conf.OrderID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
			q = q.Set("discount_amount = ?", conf.DiscountAmount).
				Set("final_amount = ?", conf.FinalAmount).
				Set("amount_paid = ?", conf.AmountTendered).
				Set("change_amount = ?", conf.ChangeAmount).
				Set("verified_by = ?", conf.VerifiedBy)
			if conf.DiscountTypeID > 0 {
				q = q.Set("discount_type_id = ?", conf.DiscountTypeID)
			}
			return q
		}, now)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrAlreadyReconciled
		}

		soldOut, err = r.stock.Deduct(ctx, tx, order.Items)
		if err != nil {
			return err
		}

		txn := &entity.PaymentTransaction{
			OrderID:     conf.OrderID,
			Method:      entity.PaymentMethodCash,
			Amount:      conf.FinalAmount,
			Source:      entity.PaymentSourceCash,
			ProcessedBy: conf.VerifiedBy,
			Status:      "completed",
			CompletedAt: now,
		}
		if _, err := tx.NewInsert().Model(txn).Exec(ctx); err != nil {
			return err
		}

		return r.appendTimeline(ctx, tx, conf.OrderID, entity.OrderStatusPending, entity.OrderStatusConfirmed, conf.VerifiedBy, "cash payment verified")
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyReconciled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cash confirmation failed")
		}
		return nil, err
	}
	return soldOut, nil
}

// ConfirmCashless runs the single reconciliation procedure shared by the
// webhook and polling paths. The conditional claim on order_status is the
// linchpin: whichever caller's transaction commits first wins, the loser
// gets ErrAlreadyReconciled and must treat it as success. Stock moves in
// the same transaction, so it is deducted exactly once per order no
// matter how many confirmations fire.
func (r *Repository) ConfirmCashless(ctx context.Context, order *entity.Order, source, reference string) ([]entity.MenuItem, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ConfirmCashless", trace.WithAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.String("payment.source", source),
	))
	defer span.End()

	now := time.Now().UTC()
	var soldOut []entity.MenuItem

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		claimed, err := r.claimPending(ctx, tx, order.ID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Set("amount_paid = final_amount").
				Set("change_amount = ?", 0)
		}, now)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrAlreadyReconciled
		}

		soldOut, err = r.stock.Deduct(ctx, tx, order.Items)
		if err != nil {
			return err
		}

		txn := &entity.PaymentTransaction{
			OrderID:     order.ID,
			Method:      entity.PaymentMethodCashless,
			Amount:      order.FinalAmount,
			Reference:   reference,
			Source:      source,
			Status:      "completed",
			CompletedAt: now,
		}
		if _, err := tx.NewInsert().Model(txn).Exec(ctx); err != nil {
			return err
		}

		return r.appendTimeline(ctx, tx, order.ID, entity.OrderStatusPending, entity.OrderStatusConfirmed, source, "cashless payment confirmed via "+source)
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyReconciled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cashless confirmation failed")
		}
		return nil, err
	}
	return soldOut, nil
}

// claimPending performs the compare-and-swap style transition away from
// pending. Zero affected rows means another path already claimed the
// order.
func (r *Repository) claimPending(ctx context.Context, tx bun.Tx, orderID int64, extra func(*bun.UpdateQuery) *bun.UpdateQuery, now time.Time) (bool, error) {
	q := tx.NewUpdate().Model((*entity.Order)(nil)).
		Set("order_status = ?", entity.OrderStatusConfirmed).
		Set("payment_status = ?", entity.PaymentStatusPaid).
		Set("payment_verified_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", orderID).
		Where("order_status = ?", entity.OrderStatusPending)
	if extra != nil {
		q = extra(q)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetPaymentReference stores the gateway invoice id on the order.
func (r *Repository) SetPaymentReference(ctx context.Context, orderID int64, reference string) error {
	_, err := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("payment_reference = ?", reference).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Exec(ctx)
	return err
}

// MarkQRScanned persists the scan timestamp once; repeat scans keep the
// first one. Returns whether this call recorded the scan.
func (r *Repository) MarkQRScanned(ctx context.Context, orderID int64) (bool, error) {
	res, err := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("qr_scanned_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("qr_scanned_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateStatus moves an order between lifecycle states with a conditional
// update guarded on the expected current status, appending the timeline
// entry in the same transaction. markPaid also flips payment fields for
// the cash-at-counter-then-confirm workflow.
func (r *Repository) UpdateStatus(ctx context.Context, orderID int64, from, to entity.OrderStatus, changedBy, notes string, markPaid bool) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status", string(to)),
	))
	defer span.End()

	now := time.Now().UTC()
	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*entity.Order)(nil)).
			Set("order_status = ?", to).
			Set("updated_at = ?", now).
			Where("id = ?", orderID).
			Where("order_status = ?", from)
		if markPaid {
			q = q.Set("payment_status = ?", entity.PaymentStatusPaid).
				Set("payment_verified_at = ?", now)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrAlreadyReconciled
		}
		return r.appendTimeline(ctx, tx, orderID, from, to, changedBy, notes)
	})
	if err != nil && !errors.Is(err, ErrAlreadyReconciled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
	}
	return err
}

func (r *Repository) appendTimeline(ctx context.Context, tx bun.Tx, orderID int64, from, to entity.OrderStatus, changedBy, notes string) error {
	entry := &entity.TimelineEntry{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		Notes:      notes,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := tx.NewInsert().Model(entry).Exec(ctx)
	return err
}

// Timeline returns the audit trail for an order, oldest first.
func (r *Repository) Timeline(ctx context.Context, orderID int64) ([]entity.TimelineEntry, error) {
	var entries []entity.TimelineEntry
	err := r.reader.NewSelect().Model(&entries).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
