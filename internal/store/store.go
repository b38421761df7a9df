package store

import (
	"context"
	"errors"
	"time"

	"warungpos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrDuplicate         = errors.New("duplicate record")
)

// MaxPaymentAttempts bounds the attempts a single transaction may carry.
const MaxPaymentAttempts = 2

// TransactionMutation edits a locked transaction in place. Returning an error
// discards every change made by the mutation.
type TransactionMutation func(tx *domain.Transaction) error

type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error)
	AdjustStock(ctx context.Context, itemID string, delta int, note string) (*domain.Item, error)
	ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	// CreateTransaction stores the transaction, its lines and attempts in one
	// unit. When tx.StockDeducted is already set, stock for every line is
	// decremented in the same unit and ErrInsufficientStock aborts it.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*domain.Transaction, error)
	FindTransactionByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error)
	// MutateTransaction runs fn against the current row while holding an
	// exclusive lock on it and persists the result. If fn flips StockDeducted
	// from false to true, stock for every line is decremented exactly once,
	// inside the same unit.
	MutateTransaction(ctx context.Context, id string, fn TransactionMutation) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, from time.Time, to time.Time, status domain.PaymentStatus, limit int) ([]domain.Transaction, error)

	CreateWebhookLog(ctx context.Context, entry domain.WebhookLog) (*domain.WebhookLog, error)
	// UpdateWebhookLog only touches the outcome fields of an existing entry.
	UpdateWebhookLog(ctx context.Context, entry domain.WebhookLog) error
	ListWebhookLogs(ctx context.Context, orderID string, limit int) ([]domain.WebhookLog, error)

	CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error)
	ListHeldCarts(ctx context.Context, storeID string, terminalID string, limit int) ([]domain.HeldCart, error)
	PopHeldCart(ctx context.Context, holdID string) (*domain.HeldCart, error)
	DeleteHeldCart(ctx context.Context, holdID string) error

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// WeightedCostCents blends the current unit cost with an incoming receipt.
func WeightedCostCents(oldCost int64, oldQty int, incomingCost int64, incomingQty int) int64 {
	if incomingQty <= 0 || incomingCost <= 0 {
		return oldCost
	}
	if oldQty <= 0 || oldCost <= 0 {
		return incomingCost
	}
	totalQty := int64(oldQty + incomingQty)
	totalCost := oldCost*int64(oldQty) + incomingCost*int64(incomingQty)
	return (totalCost + totalQty/2) / totalQty
}
