// Package domain holds the POS records shared by every layer. Money fields
// named *Cents, and their _cents JSON keys, hold whole rupiah, the smallest
// IDR unit.
package domain

import "time"

type Item struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	PriceCents int64     `json:"price_cents"`
	CostCents  int64     `json:"cost_cents"`
	Stock      int       `json:"stock"`
	MinStock   int       `json:"min_stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
	MinStock     int    `json:"min_stock"`
}

type StockAdjustmentRequest struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}

type StockMovement struct {
	ID          string         `json:"id"`
	ItemID      string         `json:"item_id"`
	Delta       int            `json:"delta"`
	Reason      MovementReason `json:"reason"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Note        string         `json:"note,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// CartItem is a line as submitted by the terminal. Prices come from the
// catalog, never from the client.
type CartItem struct {
	ItemID            string `json:"item_id"`
	Qty               int    `json:"qty"`
	LineDiscountCents int64  `json:"line_discount_cents,omitempty"`
}

// TransactionLine is the price snapshot stored with a transaction.
type TransactionLine struct {
	ItemID            string `json:"item_id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	UnitPriceCents    int64  `json:"unit_price_cents"`
	CostCents         int64  `json:"cost_cents"`
	Qty               int    `json:"qty"`
	LineDiscountCents int64  `json:"line_discount_cents"`
}

func (l TransactionLine) SubtotalCents() int64 {
	return l.UnitPriceCents*int64(l.Qty) - l.LineDiscountCents
}

type Modifiers struct {
	DiscountPercent  float64 `json:"discount_percent"`
	TaxPercent       float64 `json:"tax_percent"`
	DeliveryFeeCents int64   `json:"delivery_fee_cents"`
}

type Totals struct {
	SubtotalCents    int64 `json:"subtotal_cents"`
	DiscountCents    int64 `json:"discount_cents"`
	TaxableCents     int64 `json:"taxable_cents"`
	TaxCents         int64 `json:"tax_cents"`
	DeliveryFeeCents int64 `json:"delivery_fee_cents"`
	GrandTotalCents  int64 `json:"grand_total_cents"`
}

// PaymentSplit is one entry of the payment plan submitted at checkout.
type PaymentSplit struct {
	Method            PaymentMethod `json:"method"`
	AmountCents       int64         `json:"amount_cents"`
	CashTenderedCents int64         `json:"cash_tendered_cents,omitempty"`
	Reference         string        `json:"reference,omitempty"`
}

type CheckoutRequest struct {
	StoreID    string         `json:"store_id"`
	TerminalID string         `json:"terminal_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	CartItems  []CartItem     `json:"cart_items"`
	Modifiers  Modifiers      `json:"modifiers"`
	Payments   []PaymentSplit `json:"payments,omitempty"`
}

type QuoteResponse struct {
	Lines  []TransactionLine `json:"lines"`
	Totals Totals            `json:"totals"`
}

type PaymentAttempt struct {
	ID                 string        `json:"id"`
	TransactionID      string        `json:"transaction_id"`
	Method             PaymentMethod `json:"method"`
	AmountCents        int64         `json:"amount_cents"`
	TenderedCents      int64         `json:"tendered_cents,omitempty"`
	ChangeCents        int64         `json:"change_cents,omitempty"`
	Status             AttemptStatus `json:"status"`
	GatewayPaymentID   string        `json:"gateway_payment_id,omitempty"`
	GatewayResponseRaw string        `json:"gateway_response_raw,omitempty"`
	Reference          string        `json:"reference,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

type Transaction struct {
	ID               string            `json:"id"`
	ReceiptNumber    string            `json:"receipt_number"`
	StoreID          string            `json:"store_id"`
	TerminalID       string            `json:"terminal_id"`
	CashierID        string            `json:"cashier_id"`
	CustomerID       string            `json:"customer_id,omitempty"`
	Lines            []TransactionLine `json:"lines"`
	DiscountPercent  float64           `json:"discount_percent"`
	TaxPercent       float64           `json:"tax_percent"`
	SubtotalCents    int64             `json:"subtotal_cents"`
	DiscountCents    int64             `json:"discount_cents"`
	TaxCents         int64             `json:"tax_cents"`
	DeliveryFeeCents int64             `json:"delivery_fee_cents"`
	GrandTotalCents  int64             `json:"grand_total_cents"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	Status           TransactionStatus `json:"status"`
	GatewayName      string            `json:"gateway_name,omitempty"`
	GatewayOrderID   string            `json:"gateway_order_id,omitempty"`
	PaymentURL       string            `json:"payment_url,omitempty"`
	PaymentToken     string            `json:"payment_token,omitempty"`
	StockDeducted    bool              `json:"stock_deducted"`
	Attempts         []PaymentAttempt  `json:"attempts"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
}

// PaidCents sums the amounts of all successful attempts.
func (t Transaction) PaidCents() int64 {
	var sum int64
	for _, attempt := range t.Attempts {
		if attempt.Status == AttemptSuccess {
			sum += attempt.AmountCents
		}
	}
	return sum
}

func (t Transaction) ItemCount() int {
	count := 0
	for _, line := range t.Lines {
		count += line.Qty
	}
	return count
}

type CashPaymentRequest struct {
	AmountTenderedCents int64 `json:"amount_tendered_cents"`
}

// AttemptUpdate targets an attempt by ID, then by gateway payment ID, then by
// method. An update that matches nothing creates a new attempt.
type AttemptUpdate struct {
	AttemptID          string        `json:"attempt_id,omitempty"`
	Method             PaymentMethod `json:"method"`
	AmountCents        int64         `json:"amount_cents"`
	Status             AttemptStatus `json:"status"`
	GatewayPaymentID   string        `json:"gateway_payment_id,omitempty"`
	GatewayResponseRaw string        `json:"gateway_response_raw,omitempty"`
	Reference          string        `json:"reference,omitempty"`
}

type PaymentStatusChange struct {
	Attempts []AttemptUpdate `json:"attempts,omitempty"`
	// FailWith forces a failure status. Empty means derive from attempts.
	FailWith PaymentStatus `json:"fail_with,omitempty"`
}

type PaymentUpdateResult struct {
	Transaction      Transaction `json:"transaction"`
	AlreadyProcessed bool        `json:"already_processed"`
	StockDeducted    bool        `json:"stock_deducted_now"`
}

type PaymentLinkResponse struct {
	TransactionID  string `json:"transaction_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentURL     string `json:"payment_url"`
	PaymentToken   string `json:"payment_token"`
}

type WebhookLog struct {
	ID               string           `json:"id"`
	Gateway          string           `json:"gateway"`
	OrderID          string           `json:"order_id,omitempty"`
	TransactionID    string           `json:"transaction_id,omitempty"`
	RawBody          string           `json:"raw_body"`
	Verified         bool             `json:"verified"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Detail           string           `json:"detail,omitempty"`
	ReceivedAt       time.Time        `json:"received_at"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
}

type HoldCartRequest struct {
	StoreID    string         `json:"store_id"`
	TerminalID string         `json:"terminal_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	Note       string         `json:"note"`
	CartItems  []CartItem     `json:"cart_items"`
	Modifiers  Modifiers      `json:"modifiers"`
	Payments   []PaymentSplit `json:"payments,omitempty"`
}

type HeldCart struct {
	ID              string         `json:"id"`
	StoreID         string         `json:"store_id"`
	TerminalID      string         `json:"terminal_id"`
	CashierUsername string         `json:"cashier_username"`
	CustomerID      string         `json:"customer_id,omitempty"`
	Note            string         `json:"note"`
	CartItems       []CartItem     `json:"cart_items"`
	Modifiers       Modifiers      `json:"modifiers"`
	Payments        []PaymentSplit `json:"payments,omitempty"`
	HeldAt          time.Time      `json:"held_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PurchaseOrderItem struct {
	ItemID    string `json:"item_id"`
	Qty       int    `json:"qty"`
	CostCents int64  `json:"cost_cents"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	StoreID    string              `json:"store_id"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
	Items      []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderCreateRequest struct {
	StoreID    string              `json:"store_id"`
	SupplierID string              `json:"supplier_id"`
	Items      []PurchaseOrderItem `json:"items"`
}

type SalesSummaryRow struct {
	Period           string `json:"period"`
	Transactions     int64  `json:"transactions"`
	GrossSalesCents  int64  `json:"gross_sales_cents"`
	DiscountCents    int64  `json:"discount_cents"`
	TaxCents         int64  `json:"tax_cents"`
	DeliveryFeeCents int64  `json:"delivery_fee_cents"`
	GrandTotalCents  int64  `json:"grand_total_cents"`
}

type SalesSummaryReport struct {
	From   string            `json:"from"`
	To     string            `json:"to"`
	Bucket string            `json:"bucket"`
	Rows   []SalesSummaryRow `json:"rows"`
	Totals SalesSummaryRow   `json:"totals"`
}

type ProfitLossReport struct {
	From                    string `json:"from"`
	To                      string `json:"to"`
	Transactions            int64  `json:"transactions"`
	RevenueCents            int64  `json:"revenue_cents"`
	COGSCents               int64  `json:"cogs_cents"`
	GrossProfitCents        int64  `json:"gross_profit_cents"`
	OperationalExpenseCents int64  `json:"operational_expense_cents"`
	NetProfitCents          int64  `json:"net_profit_cents"`
}

type InventoryStatusLine struct {
	ItemID          string `json:"item_id"`
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	Stock           int    `json:"stock"`
	MinStock        int    `json:"min_stock"`
	LowStock        bool   `json:"low_stock"`
	StockValueCents int64  `json:"stock_value_cents"`
}

type InventoryStatusReport struct {
	GeneratedAt          string                `json:"generated_at"`
	Items                []InventoryStatusLine `json:"items"`
	TotalItems           int                   `json:"total_items"`
	LowStockCount        int                   `json:"low_stock_count"`
	TotalStockValueCents int64                 `json:"total_stock_value_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PurchaseOrderDraft    = "draft"
	PurchaseOrderReceived = "received"
)

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
