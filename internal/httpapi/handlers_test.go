package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"warungpos/internal/domain"
	"warungpos/internal/gateway"
	"warungpos/internal/reconcile"
	"warungpos/internal/service"
	"warungpos/internal/store/memory"
)

type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]gateway.Status
}

func (g *stubGateway) TransactionStatus(_ context.Context, orderID string) (*gateway.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[orderID]
	if !ok {
		return nil, gateway.ErrOrderNotFound
	}
	status.OrderID = orderID
	return &status, nil
}

func (g *stubGateway) VerifySignature(gateway.Notification) bool { return true }

type testEnv struct {
	api  *API
	repo *memory.Store
	gw   *stubGateway
}

// newTestEnv wires the real service, reconcile handler and auth manager over
// the seeded in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{DefaultStoreID: "test-store"})
	gw := &stubGateway{statuses: map[string]gateway.Status{}}
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)
	return &testEnv{
		api:  New(svc, reconcile.NewHandler(repo, svc, gw, false), auth, "*"),
		repo: repo,
		gw:   gw,
	}
}

func (e *testEnv) login(t *testing.T, username string, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func (e *testEnv) adminToken(t *testing.T) string   { return e.login(t, "admin", "admin123") }
func (e *testEnv) cashierToken(t *testing.T) string { return e.login(t, "cashier", "cashier123") }

// do sends a JSON request. Mutating requests carry a valid CSRF token.
func (e *testEnv) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", e.api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func kopiCheckout(payments ...domain.PaymentSplit) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		TerminalID: "T01",
		CartItems:  []domain.CartItem{{ItemID: "itm-kopi", Qty: 2}},
		Modifiers:  domain.Modifiers{DiscountPercent: 10, TaxPercent: 11, DeliveryFeeCents: 5000},
		Payments:   payments,
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeInto(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)
	if token := env.adminToken(t); token == "" {
		t.Fatalf("expected access token")
	}

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/items", "/api/v1/transactions", "/api/v1/reports/sales-summary"} {
		if rec := env.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/items", "not-a-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestCashierCannotReachAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.cashierToken(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/items", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected cashier to list items, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/items", token, domain.ItemCreateRequest{SKU: "x", Name: "x", Category: "x", PriceCents: 1}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 creating an item as cashier, got %d", rec.Code)
	}
	for _, path := range []string{"/api/v1/audit-logs", "/api/v1/webhook-logs", "/api/v1/reports/profit-loss", "/api/v1/users/cashiers"} {
		if rec := env.do(t, http.MethodGet, path, token, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, rec.Code)
		}
	}
}

func TestCheckoutQuote(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/checkout/quote", env.cashierToken(t), kopiCheckout())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var quote domain.QuoteResponse
	decodeInto(t, rec, &quote)
	want := domain.Totals{SubtotalCents: 20000, DiscountCents: 2000, TaxableCents: 18000, TaxCents: 1980, DeliveryFeeCents: 5000, GrandTotalCents: 24980}
	if quote.Totals != want {
		t.Fatalf("expected %+v, got %+v", want, quote.Totals)
	}
}

func TestCreateCashTransaction(t *testing.T) {
	env := newTestEnv(t)
	token := env.cashierToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/transactions", token, kopiCheckout(domain.PaymentSplit{Method: domain.MethodCash, CashTenderedCents: 30000}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	decodeInto(t, rec, &created)
	tx := created.Transaction
	if tx.PaymentStatus != domain.PaymentPaid || tx.CashierID != "cashier" || !tx.StockDeducted {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if len(tx.Attempts) != 1 || tx.Attempts[0].ChangeCents != 5020 {
		t.Fatalf("expected change 5020, got %+v", tx.Attempts)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/transactions/"+tx.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching transaction, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/transactions/tx-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown transaction, got %d", rec.Code)
	}
}

func TestCreateTransactionErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	token := env.cashierToken(t)

	cases := []struct {
		name string
		req  domain.CheckoutRequest
		want int
	}{
		{"empty cart", domain.CheckoutRequest{TerminalID: "T01"}, http.StatusBadRequest},
		{"unknown item", domain.CheckoutRequest{TerminalID: "T01", CartItems: []domain.CartItem{{ItemID: "itm-ghost", Qty: 1}}}, http.StatusNotFound},
		{"insufficient stock", domain.CheckoutRequest{TerminalID: "T01", CartItems: []domain.CartItem{{ItemID: "itm-kopi", Qty: 500}}}, http.StatusConflict},
		{"too many payments", kopiCheckout(
			domain.PaymentSplit{Method: domain.MethodCash, AmountCents: 10000, CashTenderedCents: 10000},
			domain.PaymentSplit{Method: domain.MethodQRIS, AmountCents: 10000, Reference: "q1"},
			domain.PaymentSplit{Method: domain.MethodDebit, AmountCents: 4980, Reference: "d1"},
		), http.StatusConflict},
		{"bad discount", domain.CheckoutRequest{TerminalID: "T01", CartItems: []domain.CartItem{{ItemID: "itm-kopi", Qty: 1}}, Modifiers: domain.Modifiers{DiscountPercent: 120}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/transactions", token, tc.req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/transactions", token, []byte(`{"terminal_id":"T01","unknown":true}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestGatewayNotificationSettlesTransaction(t *testing.T) {
	env := newTestEnv(t)
	token := env.cashierToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/transactions", token, kopiCheckout(domain.PaymentSplit{Method: domain.MethodGateway}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	decodeInto(t, rec, &created)
	orderID := created.Transaction.GatewayOrderID
	env.gw.statuses[orderID] = gateway.Status{TransactionID: "mid-77", TransactionStatus: "settlement", GrossAmount: "24980.00"}

	body := []byte(`{"order_id":"` + orderID + `","status_code":"200","gross_amount":"24980.00","transaction_status":"settlement"}`)
	for i, want := range []domain.ProcessingStatus{domain.ProcessingSuccess, domain.ProcessingAlreadyProcessed} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/gateway/notifications", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		env.api.Handler().ServeHTTP(res, req)

		if res.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d (body: %s)", i+1, res.Code, res.Body.String())
		}
		var result reconcile.Result
		decodeInto(t, res, &result)
		if result.Status != want {
			t.Fatalf("delivery %d: expected %s, got %+v", i+1, want, result)
		}
	}

	rec = env.do(t, http.MethodGet, "/api/v1/transactions/"+created.Transaction.ID, token, nil)
	var fetched struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	decodeInto(t, rec, &fetched)
	if fetched.Transaction.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected PAID after webhook, got %s", fetched.Transaction.PaymentStatus)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/webhook-logs?order_id="+orderID, env.adminToken(t), nil)
	var logs struct {
		WebhookLogs []domain.WebhookLog `json:"webhook_logs"`
	}
	decodeInto(t, rec, &logs)
	if len(logs.WebhookLogs) != 2 {
		t.Fatalf("expected 2 webhook log entries, got %d", len(logs.WebhookLogs))
	}
}

func TestGatewayNotificationStatuses(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{not json`, http.StatusBadRequest},
		{"missing order", `{"transaction_status":"settlement"}`, http.StatusBadRequest},
		{"unknown order", `{"order_id":"POS-tx-nope-1700000000","transaction_status":"settlement"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/gateway/notifications", bytes.NewReader([]byte(tc.body)))
			res := httptest.NewRecorder()
			env.api.Handler().ServeHTTP(res, req)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, res.Code, res.Body.String())
			}
		})
	}
}

func TestPaymentLinkWithoutGatewayReturns502(t *testing.T) {
	env := newTestEnv(t)
	token := env.cashierToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/transactions", token, kopiCheckout(domain.PaymentSplit{Method: domain.MethodGateway}))
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	decodeInto(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/payment-link", token, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHeldCartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.cashierToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/carts/hold", token, domain.HoldCartRequest{
		TerminalID: "T02",
		Note:       "pelanggan ambil dompet",
		CartItems:  []domain.CartItem{{ItemID: "itm-teh", Qty: 3}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("hold: %d %s", rec.Code, rec.Body.String())
	}
	var held struct {
		HeldCart domain.HeldCart `json:"held_cart"`
	}
	decodeInto(t, rec, &held)

	rec = env.do(t, http.MethodGet, "/api/v1/carts/hold?terminal_id=T02", token, nil)
	var listed struct {
		HeldCarts []domain.HeldCart `json:"held_carts"`
	}
	decodeInto(t, rec, &listed)
	if len(listed.HeldCarts) != 1 {
		t.Fatalf("expected 1 held cart, got %d", len(listed.HeldCarts))
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/carts/hold/"+held.HeldCart.ID+"/resume", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/carts/hold/"+held.HeldCart.ID+"/resume", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second resume: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/carts/hold", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("listing without terminal: expected 400, got %d", rec.Code)
	}
}

func TestPurchaseOrderReceiveOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/suppliers", token, domain.SupplierCreateRequest{Name: "CV Sumber Rejeki"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("supplier: %d %s", rec.Code, rec.Body.String())
	}
	var supplier struct {
		Supplier domain.Supplier `json:"supplier"`
	}
	decodeInto(t, rec, &supplier)

	rec = env.do(t, http.MethodPost, "/api/v1/purchase-orders", token, domain.PurchaseOrderCreateRequest{
		SupplierID: supplier.Supplier.ID,
		Items:      []domain.PurchaseOrderItem{{ItemID: "itm-gula", Qty: 30, CostCents: 15000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase order: %d %s", rec.Code, rec.Body.String())
	}
	var order struct {
		PurchaseOrder domain.PurchaseOrder `json:"purchase_order"`
	}
	decodeInto(t, rec, &order)

	path := "/api/v1/purchase-orders/" + order.PurchaseOrder.ID + "/receive"
	if rec := env.do(t, http.MethodPost, path, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("receive: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, path, token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("second receive: expected 400, got %d", rec.Code)
	}

	items, _ := env.repo.GetItemsByIDs(context.Background(), []string{"itm-gula"})
	if items["itm-gula"].Stock != 150 {
		t.Fatalf("expected stock 150, got %d", items["itm-gula"].Stock)
	}
}

func TestReportsQueryValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/reports/profit-loss?operational_expense_cents=abc", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad expense, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/reports/sales-summary?bucket=year", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad bucket, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/reports/sales-summary?from=2026-02-01&to=2026-01-01", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/reports/inventory", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for inventory, got %d", rec.Code)
	}
}

func TestCreateCashierOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	if rec := env.do(t, http.MethodPost, "/api/v1/users/cashiers", token, domain.CashierCreateRequest{Username: "rina", Password: "rahasia1"}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/users/cashiers", token, domain.CashierCreateRequest{Username: "rina", Password: "rahasia1"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/users/cashiers", token, domain.CashierCreateRequest{Username: "ab", Password: "rahasia1"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short username, got %d", rec.Code)
	}
	if token := env.login(t, "rina", "rahasia1"); token == "" {
		t.Fatalf("expected new cashier to log in")
	}
}
