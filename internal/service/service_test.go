package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warungpos/internal/cache"
	"warungpos/internal/domain"
	"warungpos/internal/gateway"
	"warungpos/internal/store"
	"warungpos/internal/store/memory"
)

type fakeLinker struct {
	mu    sync.Mutex
	err   error
	calls []gateway.LinkRequest
}

func (f *fakeLinker) CreatePaymentLink(_ context.Context, req gateway.LinkRequest) (*gateway.PaymentLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.PaymentLink{Token: "tok-" + req.OrderID, RedirectURL: "https://pay.example/" + req.OrderID}, nil
}

func newTestService() (*Service, *memory.Store, *fakeLinker) {
	repo := memory.NewSeeded()
	linker := &fakeLinker{}
	svc := New(repo, Options{DefaultStoreID: "main-store", Gateway: linker})
	return svc, repo, linker
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

// kopiCart is the 2 x 10000 cart with 10% discount, 11% tax and 5000
// delivery, which totals 24980.
func kopiCart(payments ...domain.PaymentSplit) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		TerminalID: "T01",
		CartItems:  []domain.CartItem{{ItemID: "itm-kopi", Qty: 2}},
		Modifiers:  domain.Modifiers{DiscountPercent: 10, TaxPercent: 11, DeliveryFeeCents: 5000},
		Payments:   payments,
	}
}

func stockOf(t *testing.T, repo store.Repository, itemID string) int {
	t.Helper()
	items, err := repo.GetItemsByIDs(context.Background(), []string{itemID})
	if err != nil {
		t.Fatalf("get items: %v", err)
	}
	return items[itemID].Stock
}

func TestQuoteMatchesWorkedExample(t *testing.T) {
	svc, _, _ := newTestService()

	quote, err := svc.Quote(context.Background(), kopiCart())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Totals.SubtotalCents != 20000 || quote.Totals.DiscountCents != 2000 || quote.Totals.TaxCents != 1980 || quote.Totals.GrandTotalCents != 24980 {
		t.Fatalf("unexpected totals %+v", quote.Totals)
	}
	if quote.Lines[0].UnitPriceCents != 10000 || quote.Lines[0].Name == "" {
		t.Fatalf("expected catalog snapshot, got %+v", quote.Lines[0])
	}
}

func TestCreateTransactionSplitCashAndQRISSettles(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(
		domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 15000, CashTenderedCents: 20000},
		domain.PaymentSplit{Method: domain.MethodQRIS, AmountCents: 9980, Reference: "QR-7781"},
	))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.PaymentStatus != domain.PaymentPaid || tx.Status != domain.TransactionCompleted {
		t.Fatalf("expected PAID/SELESAI, got %s/%s", tx.PaymentStatus, tx.Status)
	}
	if !tx.StockDeducted || tx.PaidAt == nil {
		t.Fatalf("expected stock deducted and paid_at set")
	}
	if tx.Attempts[0].ChangeCents != 5000 {
		t.Fatalf("expected change 5000, got %d", tx.Attempts[0].ChangeCents)
	}
	if tx.CashierID != "cashier" || tx.ReceiptNumber == "" {
		t.Fatalf("unexpected cashier/receipt %q/%q", tx.CashierID, tx.ReceiptNumber)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 118 {
		t.Fatalf("expected stock 118, got %d", got)
	}
}

func TestUpdatePaymentStatusSettlesOnceSumCoversTotal(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(
		domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 15000},
		domain.PaymentSplit{Method: domain.MethodQRIS, AmountCents: 9980},
	))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.PaymentStatus != domain.PaymentUnpaid || tx.StockDeducted {
		t.Fatalf("expected unpaid transaction, got %s deducted=%v", tx.PaymentStatus, tx.StockDeducted)
	}

	partial, err := svc.UpdatePaymentStatus(context.Background(), tx.ID, domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{Method: domain.MethodCash, Status: domain.AttemptSuccess}},
	})
	if err != nil {
		t.Fatalf("partial update: %v", err)
	}
	if partial.Transaction.PaymentStatus != domain.PaymentPartiallyPaid || partial.StockDeducted {
		t.Fatalf("expected PARTIALLY_PAID without stock effect, got %+v", partial)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 120 {
		t.Fatalf("stock moved before full payment: %d", got)
	}

	full, err := svc.UpdatePaymentStatus(context.Background(), tx.ID, domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{Method: domain.MethodQRIS, Status: domain.AttemptSuccess, Reference: "QR-1"}},
	})
	if err != nil {
		t.Fatalf("full update: %v", err)
	}
	if full.Transaction.PaymentStatus != domain.PaymentPaid || !full.StockDeducted {
		t.Fatalf("expected PAID with stock deducted, got %+v", full)
	}
	if full.Transaction.PaidCents() != 24980 {
		t.Fatalf("expected paid 24980, got %d", full.Transaction.PaidCents())
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 118 {
		t.Fatalf("expected stock 118, got %d", got)
	}
}

func TestDuplicatePaidUpdatesDecrementStockOnce(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(domain.PaymentSplit{Method: domain.MethodGateway}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.PaymentStatus != domain.PaymentPendingGateway {
		t.Fatalf("expected PENDING_GATEWAY, got %s", tx.PaymentStatus)
	}

	change := domain.PaymentStatusChange{Attempts: []domain.AttemptUpdate{{
		Method:           domain.MethodGateway,
		Status:           domain.AttemptSuccess,
		GatewayPaymentID: "mid-123",
	}}}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		deducted int
		replays  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.UpdatePaymentStatus(context.Background(), tx.ID, change)
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.StockDeducted {
				deducted++
			}
			if result.AlreadyProcessed {
				replays++
			}
		}()
	}
	wg.Wait()

	if deducted != 1 || replays != 7 {
		t.Fatalf("expected 1 deduction and 7 replays, got %d and %d", deducted, replays)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 118 {
		t.Fatalf("expected stock 118, got %d", got)
	}
}

func TestPendingGatewayUpdateLeavesStock(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(domain.PaymentSplit{Method: domain.MethodGateway}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := svc.UpdatePaymentStatus(context.Background(), tx.ID, domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{Method: domain.MethodGateway, Status: domain.AttemptPending, GatewayPaymentID: "mid-1"}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Transaction.PaymentStatus != domain.PaymentPendingGateway || result.Transaction.StockDeducted {
		t.Fatalf("unexpected state %+v", result.Transaction)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 120 {
		t.Fatalf("expected stock 120, got %d", got)
	}
}

func TestForcedFailureCancelsAndBlocksLaterUpdates(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(domain.PaymentSplit{Method: domain.MethodGateway}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := svc.UpdatePaymentStatus(context.Background(), tx.ID, domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{Method: domain.MethodGateway, Status: domain.AttemptFailed}},
		FailWith: domain.PaymentFraudFlagged,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Transaction.PaymentStatus != domain.PaymentFraudFlagged || result.Transaction.Status != domain.TransactionCancelled {
		t.Fatalf("expected FRAUD_FLAGGED/DIBATALKAN, got %s/%s", result.Transaction.PaymentStatus, result.Transaction.Status)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 120 {
		t.Fatalf("expected stock 120, got %d", got)
	}

	_, err = svc.UpdatePaymentStatus(context.Background(), tx.ID, domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{Method: domain.MethodGateway, Status: domain.AttemptSuccess}},
	})
	if !errors.Is(err, ErrTerminalTransaction) {
		t.Fatalf("expected ErrTerminalTransaction, got %v", err)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx()

	empty := kopiCart()
	empty.CartItems = nil
	if _, err := svc.CreateTransaction(ctx, empty); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	tooMany := kopiCart(
		domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 10000},
		domain.PaymentSplit{Method: domain.MethodQRIS, AmountCents: 10000},
		domain.PaymentSplit{Method: domain.MethodDebit, AmountCents: 4980},
	)
	if _, err := svc.CreateTransaction(ctx, tooMany); !errors.Is(err, ErrTooManyPayments) {
		t.Fatalf("expected ErrTooManyPayments, got %v", err)
	}

	short := kopiCart(domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 20000})
	if _, err := svc.CreateTransaction(ctx, short); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for plan below total, got %v", err)
	}

	badPercent := kopiCart()
	badPercent.Modifiers.DiscountPercent = 120
	if _, err := svc.CreateTransaction(ctx, badPercent); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for discount > 100, got %v", err)
	}

	unknown := kopiCart()
	unknown.CartItems = []domain.CartItem{{ItemID: "itm-ghost", Qty: 1}}
	if _, err := svc.CreateTransaction(ctx, unknown); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}

	oversold := kopiCart()
	oversold.CartItems = []domain.CartItem{{ItemID: "itm-kopi", Qty: 500}}
	if _, err := svc.CreateTransaction(ctx, oversold); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestUpdatePaymentStatusRejectsThirdAttempt(t *testing.T) {
	svc, _, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(
		domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 15000},
		domain.PaymentSplit{Method: domain.MethodQRIS, AmountCents: 9980},
	))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.UpdatePaymentStatus(context.Background(), tx.ID, domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{Method: domain.MethodDebit, AmountCents: 9980, Status: domain.AttemptSuccess}},
	})
	if !errors.Is(err, ErrTooManyPayments) {
		t.Fatalf("expected ErrTooManyPayments, got %v", err)
	}
}

func TestRecordCashPaymentCreatesAttemptForBalance(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(tx.Attempts) != 0 || tx.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("expected unpaid transaction without attempts, got %+v", tx)
	}

	if _, err := svc.RecordCashPayment(context.Background(), tx.ID, domain.CashPaymentRequest{AmountTenderedCents: 20000}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected short tender to fail, got %v", err)
	}

	result, err := svc.RecordCashPayment(context.Background(), tx.ID, domain.CashPaymentRequest{AmountTenderedCents: 30000})
	if err != nil {
		t.Fatalf("cash payment: %v", err)
	}
	if result.Transaction.PaymentStatus != domain.PaymentPaid || !result.StockDeducted {
		t.Fatalf("expected PAID with stock deducted, got %+v", result)
	}
	if result.Transaction.Attempts[0].ChangeCents != 5020 {
		t.Fatalf("expected change 5020, got %d", result.Transaction.Attempts[0].ChangeCents)
	}

	again, err := svc.RecordCashPayment(context.Background(), tx.ID, domain.CashPaymentRequest{AmountTenderedCents: 30000})
	if err != nil || !again.AlreadyProcessed {
		t.Fatalf("expected replay to be a no-op, got %+v err=%v", again, err)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 118 {
		t.Fatalf("expected stock 118, got %d", got)
	}
}

func TestRecordCashPaymentRefusesBalanceOwedToGateway(t *testing.T) {
	svc, repo, _ := newTestService()

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(domain.PaymentSplit{Method: domain.MethodGateway}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.PaymentStatus != domain.PaymentPendingGateway {
		t.Fatalf("expected PENDING_GATEWAY, got %s", tx.PaymentStatus)
	}

	if _, err := svc.RecordCashPayment(context.Background(), tx.ID, domain.CashPaymentRequest{AmountTenderedCents: 30000}); !errors.Is(err, ErrGatewayPending) {
		t.Fatalf("expected ErrGatewayPending, got %v", err)
	}
	current, err := svc.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.PaymentStatus != domain.PaymentPendingGateway || current.StockDeducted || len(current.Attempts) != 1 {
		t.Fatalf("expected transaction untouched, got %+v", current)
	}
	if got := stockOf(t, repo, "itm-kopi"); got != 120 {
		t.Fatalf("expected stock 120, got %d", got)
	}
}

func TestSettleWaitsForPendingAttempts(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tx := domain.Transaction{
		GrandTotalCents: 24980,
		Attempts: []domain.PaymentAttempt{
			{Method: domain.MethodCash, AmountCents: 24980, Status: domain.AttemptSuccess},
			{Method: domain.MethodGateway, AmountCents: 24980, Status: domain.AttemptPending},
		},
	}

	if settle(&tx, now) || tx.PaymentStatus == domain.PaymentPaid || tx.StockDeducted {
		t.Fatalf("expected no settlement while an attempt is pending, got %s", tx.PaymentStatus)
	}

	tx.Attempts[1].Status = domain.AttemptCancelled
	if !settle(&tx, now) || tx.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected settlement once nothing is pending, got %s", tx.PaymentStatus)
	}
}

type collidingRepo struct {
	store.Repository
	collisions int
	receipts   []string
}

func (r *collidingRepo) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	r.receipts = append(r.receipts, tx.ReceiptNumber)
	if r.collisions > 0 {
		r.collisions--
		return nil, store.ErrDuplicate
	}
	return r.Repository.CreateTransaction(ctx, tx)
}

func TestCreateTransactionRetriesReceiptCollision(t *testing.T) {
	repo := &collidingRepo{Repository: memory.NewSeeded(), collisions: 2}
	svc := New(repo, Options{})

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(repo.receipts) != 3 || tx.ReceiptNumber != repo.receipts[2] {
		t.Fatalf("expected third receipt to stick, got %v and %s", repo.receipts, tx.ReceiptNumber)
	}
}

func TestPaymentLinkFailureCanBeRetried(t *testing.T) {
	svc, _, linker := newTestService()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	linker.err = errors.New("snap down")

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(domain.PaymentSplit{Method: domain.MethodGateway}))
	if err != nil {
		t.Fatalf("create must succeed even when the link fails: %v", err)
	}
	if tx.PaymentURL != "" || tx.GatewayOrderID == "" {
		t.Fatalf("expected order id without payment url, got %+v", tx)
	}
	if id, ok := gateway.TransactionIDFromOrder(tx.GatewayOrderID); !ok || id != tx.ID {
		t.Fatalf("order id %s does not embed transaction id", tx.GatewayOrderID)
	}

	linker.err = nil
	link, err := svc.CreatePaymentLink(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("retry link: %v", err)
	}
	if link.GatewayOrderID != tx.GatewayOrderID || link.PaymentURL == "" {
		t.Fatalf("expected first link to reuse the order id, got %+v", link)
	}
	if linker.calls[1].GrossAmountCents != 24980 {
		t.Fatalf("expected gross amount 24980, got %d", linker.calls[1].GrossAmountCents)
	}

	now = now.Add(time.Minute)
	relinked, err := svc.CreatePaymentLink(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("second link: %v", err)
	}
	if relinked.GatewayOrderID == link.GatewayOrderID {
		t.Fatalf("expected a fresh order id once a link was issued")
	}
}

func TestPaymentLinkWithoutGateway(t *testing.T) {
	svc := New(memory.NewSeeded(), Options{})

	tx, err := svc.CreateTransaction(cashierCtx(), kopiCart(domain.PaymentSplit{Method: domain.MethodGateway}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreatePaymentLink(context.Background(), tx.ID); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	cash, err := svc.CreateTransaction(cashierCtx(), kopiCart())
	if err != nil {
		t.Fatalf("create cash: %v", err)
	}
	if _, err := svc.CreatePaymentLink(context.Background(), cash.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for non-gateway transaction, got %v", err)
	}
}

func TestHeldCartLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx()

	held, err := svc.HoldCart(ctx, domain.HoldCartRequest{
		TerminalID: "T01",
		Note:       "pelanggan ambil dompet",
		CartItems:  []domain.CartItem{{ItemID: "itm-roti", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.CashierUsername != "cashier" {
		t.Fatalf("expected cashier username, got %q", held.CashierUsername)
	}

	list, err := svc.ListHeldCarts(ctx, "", "T01")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one held cart, got %d err=%v", len(list), err)
	}

	resumed, err := svc.ResumeHeldCart(ctx, held.ID)
	if err != nil || resumed.ID != held.ID {
		t.Fatalf("resume: %+v err=%v", resumed, err)
	}
	if _, err := svc.ResumeHeldCart(ctx, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected resumed cart to be gone, got %v", err)
	}
	if err := svc.DiscardHeldCart(ctx, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected discard of missing cart to fail, got %v", err)
	}
}

func TestPurchaseOrderReceiveOnce(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreateSupplier(cashierCtx(), domain.SupplierCreateRequest{Name: "CV Makmur"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}
	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "CV Makmur"})
	if err != nil {
		t.Fatalf("supplier: %v", err)
	}
	po, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: supplier.ID,
		Items:      []domain.PurchaseOrderItem{{ItemID: "itm-gula", Qty: 20, CostCents: 15000}},
	})
	if err != nil {
		t.Fatalf("po: %v", err)
	}
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected second receive to be rejected, got %v", err)
	}
	if got := stockOf(t, repo, "itm-gula"); got != 140 {
		t.Fatalf("expected stock 140, got %d", got)
	}

	drafts, err := svc.ListPurchaseOrders(ctx, "draft")
	if err != nil || len(drafts) != 0 {
		t.Fatalf("expected no drafts left, got %d err=%v", len(drafts), err)
	}
}

func TestAdjustStockKeepsLedger(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.AdjustStock(ctx, "itm-teh", domain.StockAdjustmentRequest{Delta: -200, Note: "rusak"}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	item, err := svc.AdjustStock(ctx, "itm-teh", domain.StockAdjustmentRequest{Delta: -5, Note: "rusak"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if item.Stock != 115 {
		t.Fatalf("expected stock 115, got %d", item.Stock)
	}
	movements, err := svc.ListStockMovements(ctx, "itm-teh", 10)
	if err != nil || len(movements) != 1 || movements[0].Delta != -5 {
		t.Fatalf("unexpected movements %+v err=%v", movements, err)
	}
}

func TestBucketStart(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	// Sunday 2026-03-01 18:00 UTC is Monday 2026-03-02 01:00 WIB.
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	if got := BucketStart(at, BucketDay, wib).Format(time.DateOnly); got != "2026-03-02" {
		t.Fatalf("day bucket: %s", got)
	}
	if got := BucketStart(at, BucketWeek, wib).Format(time.DateOnly); got != "2026-03-02" {
		t.Fatalf("week bucket: %s", got)
	}
	if got := BucketStart(at, BucketWeek, time.UTC).Format(time.DateOnly); got != "2026-02-23" {
		t.Fatalf("week bucket in UTC: %s", got)
	}
	if got := BucketStart(at, BucketMonth, wib).Format(time.DateOnly); got != "2026-03-01" {
		t.Fatalf("month bucket: %s", got)
	}
}

func TestReportsCountOnlyPaidTransactions(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, Options{
		Gateway:        &fakeLinker{},
		ReportCache:    cache.NewMemoryReportCache(),
		ReportCacheTTL: time.Minute,
	})
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := cashierCtx()

	if _, err := svc.CreateTransaction(ctx, kopiCart(domain.PaymentSplit{Method: domain.MethodCash, CashTenderedCents: 25000})); err != nil {
		t.Fatalf("paid sale: %v", err)
	}
	now = now.AddDate(0, 0, 1)
	if _, err := svc.CreateTransaction(ctx, kopiCart(domain.PaymentSplit{Method: domain.MethodCash, CashTenderedCents: 25000})); err != nil {
		t.Fatalf("second paid sale: %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, kopiCart(domain.PaymentSplit{Method: domain.MethodGateway})); err != nil {
		t.Fatalf("pending sale: %v", err)
	}

	summary, err := svc.SalesSummary(ctx, "2026-03-01", "2026-03-07", BucketDay)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary.Rows) != 2 || summary.Totals.Transactions != 2 || summary.Totals.GrandTotalCents != 49960 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	weekly, err := svc.SalesSummary(ctx, "2026-03-01", "2026-03-07", BucketWeek)
	if err != nil || len(weekly.Rows) != 1 || weekly.Rows[0].Period != "2026-03-02" {
		t.Fatalf("unexpected weekly summary %+v err=%v", weekly, err)
	}

	if _, err := svc.ProfitLoss(ctx, "2026-03-01", "2026-03-07", 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden from profit/loss, got %v", err)
	}
	pnl, err := svc.ProfitLoss(adminCtx(), "2026-03-01", "2026-03-07", 5000)
	if err != nil {
		t.Fatalf("pnl: %v", err)
	}
	// revenue 2 x 18000, cogs 2 x 2 x 6600
	if pnl.RevenueCents != 36000 || pnl.COGSCents != 26400 || pnl.NetProfitCents != 4600 {
		t.Fatalf("unexpected pnl %+v", pnl)
	}

	// A paid sale drops the cached summary computed before it.
	if _, err := svc.CreateTransaction(ctx, kopiCart(domain.PaymentSplit{Method: domain.MethodCash, CashTenderedCents: 25000})); err != nil {
		t.Fatalf("third paid sale: %v", err)
	}
	refreshed, err := svc.SalesSummary(ctx, "2026-03-01", "2026-03-07", BucketDay)
	if err != nil || refreshed.Totals.Transactions != 3 {
		t.Fatalf("expected refreshed summary, got %+v err=%v", refreshed.Totals, err)
	}
}

func TestInventoryStatusFlagsLowStock(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.AdjustStock(adminCtx(), "itm-sabun", domain.StockAdjustmentRequest{Delta: -115, Note: "retur"}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	report, err := svc.InventoryStatus(context.Background())
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if report.TotalItems != 10 || report.LowStockCount != 1 {
		t.Fatalf("unexpected inventory report %+v", report)
	}
	for _, line := range report.Items {
		if line.ItemID == "itm-sabun" && (!line.LowStock || line.StockValueCents != 25000) {
			t.Fatalf("unexpected sabun line %+v", line)
		}
	}
}

func TestSalesSummaryRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.SalesSummary(context.Background(), "", "", "year"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bucket, got %v", err)
	}
	if _, err := svc.SalesSummary(context.Background(), "2026-03-10", "2026-03-01", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}

func TestStockChangesRefreshCachedReports(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, Options{ReportCache: cache.NewMemoryReportCache(), ReportCacheTTL: time.Hour})

	kopiStock := func() int {
		t.Helper()
		report, err := svc.InventoryStatus(context.Background())
		if err != nil {
			t.Fatalf("inventory: %v", err)
		}
		for _, line := range report.Items {
			if line.ItemID == "itm-kopi" {
				return line.Stock
			}
		}
		t.Fatalf("kopi missing from inventory report")
		return 0
	}

	if got := kopiStock(); got != 120 {
		t.Fatalf("expected stock 120, got %d", got)
	}
	if _, err := svc.AdjustStock(adminCtx(), "itm-kopi", domain.StockAdjustmentRequest{Delta: -5, Note: "rusak"}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got := kopiStock(); got != 115 {
		t.Fatalf("expected adjusted stock 115 from a fresh report, got %d", got)
	}

	if _, err := svc.CreateTransaction(cashierCtx(), kopiCart(
		domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 24980, CashTenderedCents: 25000},
	)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := kopiStock(); got != 113 {
		t.Fatalf("expected sold stock 113 from a fresh report, got %d", got)
	}
}
