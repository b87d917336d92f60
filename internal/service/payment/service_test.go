package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/broadcast"
	"github.com/Additional-Code/kiosk/internal/config"
	"github.com/Additional-Code/kiosk/internal/dto"
	"github.com/Additional-Code/kiosk/internal/entity"
	"github.com/Additional-Code/kiosk/internal/events"
	"github.com/Additional-Code/kiosk/internal/gateway"
	catalogrepo "github.com/Additional-Code/kiosk/internal/repository/catalog"
	repo "github.com/Additional-Code/kiosk/internal/repository/order"
	"github.com/Additional-Code/kiosk/internal/repository/stock"
	"github.com/Additional-Code/kiosk/pkg/errorbank"
)

type fakeStore struct {
	orders          map[int64]*entity.Order
	byNumber        map[string]*entity.Order
	cashConf        *repo.CashConfirmation
	cashErr         error
	cashlessSource  string
	cashlessRef     string
	cashlessCalls   int
	cashlessErr     error
	soldOut         []entity.MenuItem
	reference       string
	qrScannedOrder  int64
	qrScanned       bool
	referenceFailed error
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*entity.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return order, nil
}

func (f *fakeStore) GetByNumber(_ context.Context, number string) (*entity.Order, error) {
	order, ok := f.byNumber[number]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return order, nil
}

func (f *fakeStore) ConfirmCash(_ context.Context, _ *entity.Order, conf repo.CashConfirmation) ([]entity.MenuItem, error) {
	if f.cashErr != nil {
		return nil, f.cashErr
	}
	f.cashConf = &conf
	return f.soldOut, nil
}

func (f *fakeStore) ConfirmCashless(_ context.Context, _ *entity.Order, source, reference string) ([]entity.MenuItem, error) {
	f.cashlessCalls++
	if f.cashlessErr != nil {
		return nil, f.cashlessErr
	}
	f.cashlessSource = source
	f.cashlessRef = reference
	return f.soldOut, nil
}

func (f *fakeStore) SetPaymentReference(_ context.Context, _ int64, reference string) error {
	if f.referenceFailed != nil {
		return f.referenceFailed
	}
	f.reference = reference
	return nil
}

func (f *fakeStore) MarkQRScanned(_ context.Context, orderID int64) (bool, error) {
	if f.qrScanned {
		return false, nil
	}
	f.qrScanned = true
	f.qrScannedOrder = orderID
	return true, nil
}

type fakeDiscounts struct {
	types map[int64]*entity.DiscountType
}

func (f *fakeDiscounts) DiscountType(_ context.Context, id int64) (*entity.DiscountType, error) {
	discount, ok := f.types[id]
	if !ok {
		return nil, catalogrepo.ErrNotFound
	}
	return discount, nil
}

type fakeGateway struct {
	invoice    *gateway.Invoice
	createErr  error
	getErr     error
	validToken string
}

func (f *fakeGateway) CreateInvoice(_ context.Context, externalID string, amount int64, expiry time.Duration) (*gateway.Invoice, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gateway.Invoice{
		ID:         "inv-123",
		ExternalID: externalID,
		InvoiceURL: "https://pay.example.com/inv-123",
		Amount:     amount,
		Status:     "PENDING",
		ExpiryDate: time.Now().UTC().Add(expiry),
	}, nil
}

func (f *fakeGateway) GetInvoice(_ context.Context, invoiceID string) (*gateway.Invoice, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.invoice != nil {
		return f.invoice, nil
	}
	return &gateway.Invoice{ID: invoiceID, Status: "PENDING"}, nil
}

func (f *fakeGateway) VerifyCallbackToken(token string) bool {
	return f.validToken != "" && token == f.validToken
}

func newTestService(store *fakeStore, discounts *fakeDiscounts, gw gateway.Client) *Service {
	if discounts == nil {
		discounts = &fakeDiscounts{}
	}
	if gw == nil {
		gw = &fakeGateway{}
	}
	return &Service{
		store:     store,
		discounts: discounts,
		gateway:   gw,
		expiry:    15 * time.Minute,
		logger:    zap.NewNop(),
	}
}

func pendingCashOrder() *entity.Order {
	return &entity.Order{
		ID:            1,
		OrderNumber:   "ORD-20260829-0001",
		PaymentMethod: entity.PaymentMethodCash,
		PaymentStatus: entity.PaymentStatusUnpaid,
		OrderStatus:   entity.OrderStatusPending,
		Subtotal:      10000,
		TaxAmount:     1200,
		FinalAmount:   11200,
	}
}

func pendingCashlessOrder() *entity.Order {
	order := pendingCashOrder()
	order.PaymentMethod = entity.PaymentMethodCashless
	return order
}

func TestVerifyCash_ExactTender(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	svc := newTestService(store, nil, nil)

	resp, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{
		OrderID:        1,
		AmountTendered: 11200,
		VerifiedBy:     "cashier-3",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Zero(t, resp.ChangeAmount)
	require.NotNil(t, store.cashConf)
	assert.Equal(t, int64(11200), store.cashConf.FinalAmount)
	assert.Equal(t, "cashier-3", store.cashConf.VerifiedBy)
}

func TestVerifyCash_ChangeComputed(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	svc := newTestService(store, nil, nil)

	resp, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{OrderID: 1, AmountTendered: 20000})
	require.NoError(t, err)

	assert.Equal(t, int64(8800), resp.ChangeAmount)
}

func TestVerifyCash_ShortfallRejected(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	svc := newTestService(store, nil, nil)

	_, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{OrderID: 1, AmountTendered: 10000})
	require.Error(t, err)

	appErr := errorbank.From(err)
	assert.Equal(t, errorbank.KindInsufficientPayment, appErr.Kind())
	assert.Equal(t, int64(1200), appErr.Details()["shortfall"])
	assert.Nil(t, store.cashConf, "shortfall must not touch the order")
}

func TestVerifyCash_DiscountRecomputesTotal(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	discounts := &fakeDiscounts{types: map[int64]*entity.DiscountType{
		5: {ID: 5, Name: "Senior Citizen", Pct: 20, Active: true},
	}}
	svc := newTestService(store, discounts, nil)

	// 10000 subtotal + 1200 tax - 2000 discount = 9200.
	resp, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{
		OrderID:                1,
		AmountTendered:         10000,
		CustomerDiscountTypeID: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(800), resp.ChangeAmount)
	assert.Equal(t, int64(2000), store.cashConf.DiscountAmount)
	assert.Equal(t, int64(9200), store.cashConf.FinalAmount)
}

func TestVerifyCash_UnknownDiscountRejected(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	svc := newTestService(store, nil, nil)

	_, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{
		OrderID:                1,
		AmountTendered:         20000,
		CustomerDiscountTypeID: 99,
	})
	require.Error(t, err)
	assert.Equal(t, errorbank.KindInvalidDiscount, errorbank.From(err).Kind())
}

func TestVerifyCash_AlreadyPaid(t *testing.T) {
	order := pendingCashOrder()
	order.PaymentStatus = entity.PaymentStatusPaid
	store := &fakeStore{orders: map[int64]*entity.Order{1: order}}
	svc := newTestService(store, nil, nil)

	_, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{OrderID: 1, AmountTendered: 20000})
	require.Error(t, err)
	assert.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())
}

func TestVerifyCash_StockShortageSurfaces(t *testing.T) {
	store := &fakeStore{
		orders:  map[int64]*entity.Order{1: pendingCashOrder()},
		cashErr: &stock.InsufficientError{MenuItemID: 3, Name: "Classic Burger", Requested: 2, Available: 1},
	}
	svc := newTestService(store, nil, nil)

	_, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{OrderID: 1, AmountTendered: 20000})
	require.Error(t, err)

	appErr := errorbank.From(err)
	assert.Equal(t, errorbank.KindInsufficientStock, appErr.Kind())
	assert.Equal(t, 1, appErr.Details()["available"])
}

func TestCreateInvoice_StoresReference(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashlessOrder()}}
	svc := newTestService(store, nil, nil)

	resp, err := svc.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{OrderID: 1, Amount: 11200})
	require.NoError(t, err)

	assert.Equal(t, "inv-123", resp.InvoiceID)
	assert.Equal(t, "inv-123", store.reference)
}

func TestCreateInvoice_AmountMismatchRejected(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashlessOrder()}}
	svc := newTestService(store, nil, nil)

	_, err := svc.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{OrderID: 1, Amount: 9999})
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}

func TestCreateInvoice_CashOrderRejected(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	svc := newTestService(store, nil, nil)

	_, err := svc.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{OrderID: 1})
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}

func TestCreateInvoice_GatewayErrorPropagates(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashlessOrder()}}
	gw := &fakeGateway{createErr: errorbank.Gateway("payment provider unreachable")}
	svc := newTestService(store, nil, gw)

	_, err := svc.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{OrderID: 1})
	require.Error(t, err)
	assert.Equal(t, errorbank.KindGatewayError, errorbank.From(err).Kind())
}

func TestCheckStatus_AlreadyReconciledSkipsGateway(t *testing.T) {
	order := pendingCashlessOrder()
	order.OrderStatus = entity.OrderStatusConfirmed
	order.PaymentStatus = entity.PaymentStatusPaid
	store := &fakeStore{orders: map[int64]*entity.Order{1: order}}
	gw := &fakeGateway{getErr: errors.New("must not be called")}
	svc := newTestService(store, nil, gw)

	resp, err := svc.CheckStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, resp.Paid)
}

func TestCheckStatus_PaidInvoiceReconciles(t *testing.T) {
	order := pendingCashlessOrder()
	order.PaymentReference = "inv-123"
	store := &fakeStore{orders: map[int64]*entity.Order{1: order}}
	gw := &fakeGateway{invoice: &gateway.Invoice{ID: "inv-123", Status: "PAID"}}
	svc := newTestService(store, nil, gw)

	resp, err := svc.CheckStatus(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, resp.Paid)
	assert.Equal(t, entity.PaymentSourcePolling, store.cashlessSource)
	assert.Equal(t, "inv-123", store.cashlessRef)
}

func TestCheckStatus_PendingInvoiceStaysUnpaid(t *testing.T) {
	order := pendingCashlessOrder()
	order.PaymentReference = "inv-123"
	store := &fakeStore{orders: map[int64]*entity.Order{1: order}}
	svc := newTestService(store, nil, nil)

	resp, err := svc.CheckStatus(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, resp.Paid)
	assert.Zero(t, store.cashlessCalls)
}

func TestCheckStatus_GatewayErrorReportsPending(t *testing.T) {
	order := pendingCashlessOrder()
	order.PaymentReference = "inv-123"
	store := &fakeStore{orders: map[int64]*entity.Order{1: order}}
	gw := &fakeGateway{getErr: errors.New("timeout")}
	svc := newTestService(store, nil, gw)

	resp, err := svc.CheckStatus(context.Background(), 1)
	require.NoError(t, err, "poll loop is the retry mechanism")
	assert.False(t, resp.Paid)
}

func TestCheckStatus_LostRaceIsNoOpSuccess(t *testing.T) {
	order := pendingCashlessOrder()
	order.PaymentReference = "inv-123"
	store := &fakeStore{
		orders:      map[int64]*entity.Order{1: order},
		cashlessErr: repo.ErrAlreadyReconciled,
	}
	gw := &fakeGateway{invoice: &gateway.Invoice{ID: "inv-123", Status: "PAID"}}
	svc := newTestService(store, nil, gw)

	resp, err := svc.CheckStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, resp.Paid)
}

func TestHandleWebhook_ReconcilesPendingOrder(t *testing.T) {
	order := pendingCashlessOrder()
	store := &fakeStore{
		orders:   map[int64]*entity.Order{1: order},
		byNumber: map[string]*entity.Order{order.OrderNumber: order},
	}
	gw := &fakeGateway{validToken: "secret"}
	svc := newTestService(store, nil, gw)

	svc.HandleWebhook(context.Background(), dto.WebhookPayload{
		ID:         "inv-123",
		ExternalID: order.OrderNumber,
		Status:     "PAID",
		Amount:     11200,
	}, "secret")

	assert.Equal(t, entity.PaymentSourceWebhook, store.cashlessSource)
	assert.Equal(t, "inv-123", store.cashlessRef)
}

func TestHandleWebhook_InvalidTokenIgnored(t *testing.T) {
	order := pendingCashlessOrder()
	store := &fakeStore{
		orders:   map[int64]*entity.Order{1: order},
		byNumber: map[string]*entity.Order{order.OrderNumber: order},
	}
	gw := &fakeGateway{validToken: "secret"}
	svc := newTestService(store, nil, gw)

	svc.HandleWebhook(context.Background(), dto.WebhookPayload{
		ID:         "inv-123",
		ExternalID: order.OrderNumber,
		Status:     "PAID",
	}, "wrong")

	assert.Zero(t, store.cashlessCalls)
}

func TestHandleWebhook_UnpaidStatusIgnored(t *testing.T) {
	order := pendingCashlessOrder()
	store := &fakeStore{
		orders:   map[int64]*entity.Order{1: order},
		byNumber: map[string]*entity.Order{order.OrderNumber: order},
	}
	gw := &fakeGateway{validToken: "secret"}
	svc := newTestService(store, nil, gw)

	svc.HandleWebhook(context.Background(), dto.WebhookPayload{
		ID:         "inv-123",
		ExternalID: order.OrderNumber,
		Status:     "EXPIRED",
	}, "secret")

	assert.Zero(t, store.cashlessCalls)
}

func TestHandleWebhook_AlreadyReconciledOrderIgnored(t *testing.T) {
	order := pendingCashlessOrder()
	order.OrderStatus = entity.OrderStatusConfirmed
	store := &fakeStore{
		orders:   map[int64]*entity.Order{1: order},
		byNumber: map[string]*entity.Order{order.OrderNumber: order},
	}
	gw := &fakeGateway{validToken: "secret"}
	svc := newTestService(store, nil, gw)

	svc.HandleWebhook(context.Background(), dto.WebhookPayload{
		ID:         "inv-123",
		ExternalID: order.OrderNumber,
		Status:     "PAID",
	}, "secret")

	assert.Zero(t, store.cashlessCalls)
}

func TestMarkQRScanned(t *testing.T) {
	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashlessOrder()}}
	svc := newTestService(store, nil, nil)

	err := svc.MarkQRScanned(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.qrScannedOrder)
}

func TestRepeatQRScanBroadcastsOnce(t *testing.T) {
	cfg := config.Config{}
	cfg.Broadcast.BufferSize = 100
	cfg.Broadcast.SubscriberBuffer = 8
	hub := broadcast.NewHub(cfg, zap.NewNop())

	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashlessOrder()}}
	svc := newTestService(store, nil, nil)
	svc.hub = hub

	sub, _ := hub.Subscribe(broadcast.ChannelNotifications, "", 0)
	defer hub.Unsubscribe(sub)

	require.NoError(t, svc.MarkQRScanned(context.Background(), 1))
	require.NoError(t, svc.MarkQRScanned(context.Background(), 1))

	assert.Equal(t, events.TypePaymentQRScanned, (<-sub.C).Type)
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected second event %q", ev.Type)
	default:
	}
}

func TestConfirmedEventsReachSubscribers(t *testing.T) {
	cfg := config.Config{}
	cfg.Broadcast.BufferSize = 100
	cfg.Broadcast.SubscriberBuffer = 8
	hub := broadcast.NewHub(cfg, zap.NewNop())

	store := &fakeStore{orders: map[int64]*entity.Order{1: pendingCashOrder()}}
	svc := newTestService(store, nil, nil)
	svc.hub = hub

	sub, _ := hub.Subscribe(broadcast.ChannelOrders, "", 0)
	defer hub.Unsubscribe(sub)

	_, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{OrderID: 1, AmountTendered: 11200})
	require.NoError(t, err)

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, events.TypePaymentConfirmed, first.Type)
	assert.Equal(t, events.TypeOrderStatusChanged, second.Type)
}

func TestSoldOutEventsBroadcast(t *testing.T) {
	cfg := config.Config{}
	cfg.Broadcast.BufferSize = 100
	cfg.Broadcast.SubscriberBuffer = 8
	hub := broadcast.NewHub(cfg, zap.NewNop())

	store := &fakeStore{
		orders:  map[int64]*entity.Order{1: pendingCashOrder()},
		soldOut: []entity.MenuItem{{ID: 3, Name: "Classic Burger", Status: entity.MenuItemSoldOut}},
	}
	svc := newTestService(store, nil, nil)
	svc.hub = hub

	menu, _ := hub.Subscribe(broadcast.ChannelMenu, "", 0)
	inventory, _ := hub.Subscribe(broadcast.ChannelInventory, "", 0)
	defer hub.Unsubscribe(menu)
	defer hub.Unsubscribe(inventory)

	_, err := svc.VerifyCash(context.Background(), dto.VerifyCashRequest{OrderID: 1, AmountTendered: 11200})
	require.NoError(t, err)

	assert.Equal(t, events.TypeMenuSoldOut, (<-menu.C).Type)
	assert.Equal(t, events.TypeMenuSoldOut, (<-inventory.C).Type)
}
