package catalog

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
)

var repoTracer = otel.Tracer("github.com/Additional-Code/kiosk/repository/catalog")

// ErrNotFound is returned when a catalog record is missing.
var ErrNotFound = errors.New("catalog record not found")

// Repository provides read access to the menu catalog, tax rules,
// discounts and the capacity counter.
type Repository struct {
	reader *bun.DB
}

// NewRepository wires a repository backed by the read connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{reader: conns.Reader}
}

// MenuItem fetches a catalog entry by id.
func (r *Repository) MenuItem(ctx context.Context, id int64) (*entity.MenuItem, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.MenuItem", trace.WithAttributes(attribute.Int64("menu_item.id", id)))
	defer span.End()

	item := new(entity.MenuItem)
	err := r.reader.NewSelect().Model(item).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return item, nil
}

// Modifier fetches an active modifier option by id.
func (r *Repository) Modifier(ctx context.Context, id int64) (*entity.ModifierOption, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.Modifier", trace.WithAttributes(attribute.Int64("modifier.id", id)))
	defer span.End()

	modifier := new(entity.ModifierOption)
	err := r.reader.NewSelect().Model(modifier).
		Where("id = ?", id).
		Where("active = ?", true).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return modifier, nil
}

// ActiveTaxRule returns the latest active tax rule, or nil when taxation
// is off.
func (r *Repository) ActiveTaxRule(ctx context.Context) (*entity.TaxRule, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.ActiveTaxRule")
	defer span.End()

	rule := new(entity.TaxRule)
	err := r.reader.NewSelect().Model(rule).
		Where("active = ?", true).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rule, nil
}

// DiscountType fetches an active discount by id.
func (r *Repository) DiscountType(ctx context.Context, id int64) (*entity.DiscountType, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.DiscountType", trace.WithAttributes(attribute.Int64("discount.id", id)))
	defer span.End()

	discount := new(entity.DiscountType)
	err := r.reader.NewSelect().Model(discount).
		Where("id = ?", id).
		Where("active = ?", true).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return discount, nil
}

// CapacityBound returns the queue-minute cap for a business day, or 0
// when none is configured.
func (r *Repository) CapacityBound(ctx context.Context, day time.Time) (int, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.CapacityBound")
	defer span.End()

	counter := new(entity.CapacityCounter)
	err := r.reader.NewSelect().Model(counter).
		Where("business_date = ?", day.Format("2006-01-02")).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return counter.MaxQueueMinutes, nil
}
