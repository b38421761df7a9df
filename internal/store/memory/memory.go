package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"warungpos/internal/domain"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

// Store keeps everything behind one RWMutex. MutateTransaction holds the
// write lock for the full read-check-write cycle.
type Store struct {
	mu                 sync.RWMutex
	itemsByID          map[string]domain.Item
	itemIDBySKU        map[string]string
	movements          []domain.StockMovement
	customersByID      map[string]domain.Customer
	transactionsByID   map[string]*domain.Transaction
	txIDByGatewayOrder map[string]string
	txIDByReceipt      map[string]string
	webhookLogs        []domain.WebhookLog
	heldCartsByID      map[string]domain.HeldCart
	suppliersByID      map[string]domain.Supplier
	purchaseOrdersByID map[string]domain.PurchaseOrder
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// hardcoded dev defaults are used when they are unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	items := []domain.Item{
		{ID: "itm-mie", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", PriceCents: 3500, CostCents: 2700},
		{ID: "itm-telur", SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", PriceCents: 26500, CostCents: 23000},
		{ID: "itm-susu", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", PriceCents: 18900, CostCents: 13600},
		{ID: "itm-roti", SKU: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", PriceCents: 17800, CostCents: 12500},
		{ID: "itm-kopi", SKU: "SKU-KOPI-01", Name: "Kopi Bubuk 200g", Category: "beverage", PriceCents: 10000, CostCents: 6600},
		{ID: "itm-gula", SKU: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", PriceCents: 17400, CostCents: 15300},
		{ID: "itm-teh", SKU: "SKU-TEH-01", Name: "Teh Celup", Category: "beverage", PriceCents: 9800, CostCents: 7250},
		{ID: "itm-air", SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", PriceCents: 3900, CostCents: 3200},
		{ID: "itm-keripik", SKU: "SKU-KERIPIK-01", Name: "Keripik Singkong", Category: "snack", PriceCents: 12800, CostCents: 8100},
		{ID: "itm-sabun", SKU: "SKU-SABUN-01", Name: "Sabun Mandi", Category: "household", PriceCents: 7400, CostCents: 5000},
	}

	s := &Store{
		itemsByID:          make(map[string]domain.Item, len(items)),
		itemIDBySKU:        make(map[string]string, len(items)),
		movements:          make([]domain.StockMovement, 0, 128),
		customersByID:      make(map[string]domain.Customer),
		transactionsByID:   make(map[string]*domain.Transaction),
		txIDByGatewayOrder: make(map[string]string),
		txIDByReceipt:      make(map[string]string),
		webhookLogs:        make([]domain.WebhookLog, 0, 64),
		heldCartsByID:      make(map[string]domain.HeldCart),
		suppliersByID:      make(map[string]domain.Supplier),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    seedUsers(),
	}
	for _, item := range items {
		item.Stock = 120
		item.MinStock = 10
		item.Active = true
		item.CreatedAt = now
		s.itemsByID[item.ID] = item
		s.itemIDBySKU[item.SKU] = item.ID
	}
	return s
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		if !item.Active {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.SKU == "" || item.Name == "" || item.PriceCents < 1 || item.CostCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.itemIDBySKU[item.SKU]; exists {
		return nil, fmt.Errorf("%w: sku %s", store.ErrDuplicate, item.SKU)
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true

	s.itemsByID[item.ID] = item
	s.itemIDBySKU[item.SKU] = item.ID
	if item.Stock > 0 {
		s.appendMovement(item.ID, item.Stock, domain.MovementAdjustment, "", "initial stock", item.CreatedAt)
	}
	created := item
	return &created, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.itemsByID[id]; ok && item.Active {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, itemID string, delta int, note string) (*domain.Item, error) {
	if delta == 0 {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.itemsByID[itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	item.Stock += delta
	s.itemsByID[itemID] = item
	s.appendMovement(itemID, delta, domain.MovementAdjustment, "", note, time.Now().UTC())
	updated := item
	return &updated, nil
}

func (s *Store) ListStockMovements(_ context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 64)
	for i := len(s.movements) - 1; i >= 0; i-- {
		movement := s.movements[i]
		if itemID != "" && movement.ItemID != itemID {
			continue
		}
		result = append(result, movement)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.Lines) == 0 || tx.ReceiptNumber == "" {
		return nil, store.ErrInvalidRecord
	}
	if len(tx.Attempts) > store.MaxPaymentAttempts {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.txIDByReceipt[tx.ReceiptNumber]; exists {
		return nil, fmt.Errorf("%w: receipt %s", store.ErrDuplicate, tx.ReceiptNumber)
	}
	if tx.GatewayOrderID != "" {
		if _, exists := s.txIDByGatewayOrder[tx.GatewayOrderID]; exists {
			return nil, fmt.Errorf("%w: gateway order %s", store.ErrDuplicate, tx.GatewayOrderID)
		}
	}
	for _, line := range tx.Lines {
		if _, exists := s.itemsByID[line.ItemID]; !exists {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
	}

	now := time.Now().UTC()
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = tx.CreatedAt
	for i := range tx.Attempts {
		if tx.Attempts[i].ID == "" {
			tx.Attempts[i].ID = xid.New("pay")
		}
		tx.Attempts[i].TransactionID = tx.ID
		if tx.Attempts[i].CreatedAt.IsZero() {
			tx.Attempts[i].CreatedAt = now
		}
		tx.Attempts[i].UpdatedAt = now
	}

	if tx.StockDeducted {
		for _, line := range tx.Lines {
			if s.itemsByID[line.ItemID].Stock < line.Qty {
				return nil, fmt.Errorf("%w: item %s", store.ErrInsufficientStock, line.ItemID)
			}
		}
		s.decrementLines(tx, now)
	}

	saved := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = saved
	s.txIDByReceipt[tx.ReceiptNumber] = tx.ID
	if tx.GatewayOrderID != "" {
		s.txIDByGatewayOrder[tx.GatewayOrderID] = tx.ID
	}
	return cloneTransaction(saved), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	s.mu.RLock()
	id, exists := s.txIDByGatewayOrder[orderID]
	s.mu.RUnlock()
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.FindTransactionByID(ctx, id)
}

func (s *Store) FindTransactionByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error) {
	s.mu.RLock()
	id, exists := s.txIDByReceipt[receipt]
	s.mu.RUnlock()
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.FindTransactionByID(ctx, id)
}

func (s *Store) MutateTransaction(_ context.Context, id string, fn store.TransactionMutation) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	working := cloneTransaction(current)
	if err := fn(working); err != nil {
		return nil, err
	}
	if working.ID != current.ID || working.ReceiptNumber != current.ReceiptNumber {
		return nil, store.ErrInvalidRecord
	}
	if len(working.Attempts) > store.MaxPaymentAttempts {
		return nil, store.ErrInvalidRecord
	}
	if current.StockDeducted && !working.StockDeducted {
		return nil, store.ErrInvalidRecord
	}
	if working.GatewayOrderID != current.GatewayOrderID && working.GatewayOrderID != "" {
		if owner, taken := s.txIDByGatewayOrder[working.GatewayOrderID]; taken && owner != id {
			return nil, fmt.Errorf("%w: gateway order %s", store.ErrDuplicate, working.GatewayOrderID)
		}
	}

	now := time.Now().UTC()
	working.UpdatedAt = now
	for i := range working.Attempts {
		if working.Attempts[i].ID == "" {
			working.Attempts[i].ID = xid.New("pay")
			working.Attempts[i].CreatedAt = now
		}
		working.Attempts[i].TransactionID = id
		if working.Attempts[i].UpdatedAt.IsZero() {
			working.Attempts[i].UpdatedAt = now
		}
	}

	if !current.StockDeducted && working.StockDeducted {
		s.decrementLines(*working, now)
	}

	if current.GatewayOrderID != working.GatewayOrderID {
		delete(s.txIDByGatewayOrder, current.GatewayOrderID)
		if working.GatewayOrderID != "" {
			s.txIDByGatewayOrder[working.GatewayOrderID] = id
		}
	}
	s.transactionsByID[id] = working
	return cloneTransaction(working), nil
}

func (s *Store) ListTransactions(_ context.Context, from time.Time, to time.Time, status domain.PaymentStatus, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.transactionsByID {
		if status != "" && tx.PaymentStatus != status {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateWebhookLog(_ context.Context, entry domain.WebhookLog) (*domain.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("whk")
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	if entry.ProcessingStatus == "" {
		entry.ProcessingStatus = domain.ProcessingReceived
	}
	s.webhookLogs = append(s.webhookLogs, entry)
	created := entry
	return &created, nil
}

func (s *Store) UpdateWebhookLog(_ context.Context, entry domain.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.webhookLogs {
		if s.webhookLogs[i].ID != entry.ID {
			continue
		}
		existing := &s.webhookLogs[i]
		existing.OrderID = entry.OrderID
		existing.TransactionID = entry.TransactionID
		existing.Verified = entry.Verified
		existing.ProcessingStatus = entry.ProcessingStatus
		existing.Detail = entry.Detail
		existing.ProcessedAt = entry.ProcessedAt
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ListWebhookLogs(_ context.Context, orderID string, limit int) ([]domain.WebhookLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.WebhookLog, 0, 32)
	for i := len(s.webhookLogs) - 1; i >= 0; i-- {
		entry := s.webhookLogs[i]
		if orderID != "" && entry.OrderID != orderID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateHeldCart(_ context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	if held.StoreID == "" || held.TerminalID == "" || len(held.CartItems) == 0 {
		return nil, store.ErrInvalidRecord
	}

	s.heldCartsByID[held.ID] = cloneHeldCart(held)
	saved := cloneHeldCart(s.heldCartsByID[held.ID])
	return &saved, nil
}

func (s *Store) ListHeldCarts(_ context.Context, storeID string, terminalID string, limit int) ([]domain.HeldCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HeldCart, 0, len(s.heldCartsByID))
	for _, held := range s.heldCartsByID {
		if storeID != "" && held.StoreID != storeID {
			continue
		}
		if terminalID != "" && held.TerminalID != terminalID {
			continue
		}
		result = append(result, cloneHeldCart(held))
	}
	slices.SortFunc(result, func(a, b domain.HeldCart) int {
		return newestFirst(a.HeldAt, b.HeldAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PopHeldCart(_ context.Context, holdID string) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.heldCartsByID[holdID]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.heldCartsByID, holdID)
	result := cloneHeldCart(held)
	return &result, nil
}

func (s *Store) DeleteHeldCart(_ context.Context, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.heldCartsByID[holdID]; !exists {
		return store.ErrNotFound
	}
	delete(s.heldCartsByID, holdID)
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		result = append(result, supplier)
	}
	slices.SortFunc(result, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.suppliersByID[po.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	for _, item := range po.Items {
		if item.Qty < 1 || item.CostCents < 1 {
			return nil, store.ErrInvalidRecord
		}
		if _, exists := s.itemsByID[item.ItemID]; !exists {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, item.ItemID)
		}
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.Status = domain.PurchaseOrderDraft

	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := clonePurchaseOrder(po)
	return &result, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToLower(strings.TrimSpace(status))
	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if storeID != "" && po.StoreID != storeID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status != domain.PurchaseOrderDraft {
		return nil, store.ErrInvalidRecord
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	for _, line := range po.Items {
		item, ok := s.itemsByID[line.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		item.CostCents = store.WeightedCostCents(item.CostCents, item.Stock, line.CostCents, line.Qty)
		item.Stock += line.Qty
		s.itemsByID[item.ID] = item
		s.appendMovement(item.ID, line.Qty, domain.MovementPurchaseReceipt, po.ID, "", receivedAt)
	}

	po.Status = domain.PurchaseOrderReceived
	po.ReceivedBy = strings.TrimSpace(receivedBy)
	if po.ReceivedBy == "" {
		po.ReceivedBy = "system"
	}
	po.ReceivedAt = &receivedAt
	s.purchaseOrdersByID[purchaseOrderID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// decrementLines applies a sale to stock. Callers hold the write lock.
// Settlement may drive stock below zero; the sale already happened.
func (s *Store) decrementLines(tx domain.Transaction, at time.Time) {
	for _, line := range tx.Lines {
		item := s.itemsByID[line.ItemID]
		item.Stock -= line.Qty
		if item.Stock < 0 {
			log.Printf("[memory-store] WARN: stock for %s went negative (%d) settling %s", item.ID, item.Stock, tx.ID)
		}
		s.itemsByID[item.ID] = item
		s.appendMovement(item.ID, -line.Qty, domain.MovementSale, tx.ID, tx.ReceiptNumber, at)
	}
}

func (s *Store) appendMovement(itemID string, delta int, reason domain.MovementReason, referenceID string, note string, at time.Time) {
	s.movements = append(s.movements, domain.StockMovement{
		ID:          xid.New("mov"),
		ItemID:      itemID,
		Delta:       delta,
		Reason:      reason,
		ReferenceID: referenceID,
		Note:        note,
		CreatedAt:   at,
	})
}

func newestFirst(a time.Time, b time.Time, aID string, bID string) int {
	if a.Equal(b) {
		return strings.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	dup.Attempts = slices.Clone(src.Attempts)
	if src.PaidAt != nil {
		paidAt := *src.PaidAt
		dup.PaidAt = &paidAt
	}
	return &dup
}

func cloneHeldCart(src domain.HeldCart) domain.HeldCart {
	dup := src
	dup.CartItems = slices.Clone(src.CartItems)
	dup.Payments = slices.Clone(src.Payments)
	return dup
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}
