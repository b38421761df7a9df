package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warungpos/internal/domain"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the bundled schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, sku, name, category, price_cents, cost_cents, stock, min_stock, active, created_at`

func scanItem(row interface{ Scan(...any) error }) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &item.Category, &item.PriceCents, &item.CostCents,
		&item.Stock, &item.MinStock, &item.Active, &item.CreatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	return item, err
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.SKU == "" || item.Name == "" || item.PriceCents < 1 || item.CostCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidRecord
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO items (id, sku, name, category, price_cents, cost_cents, stock, min_stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, item.ID, item.SKU, item.Name, item.Category, item.PriceCents, item.CostCents, item.Stock, item.MinStock, item.Active, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrDuplicate, item.SKU)
		}
		return nil, err
	}
	if item.Stock > 0 {
		if err := insertMovement(ctx, pgTx, item.ID, item.Stock, domain.MovementAdjustment, "", "initial stock", item.CreatedAt); err != nil {
			return nil, err
		}
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, itemID string, delta int, note string) (*domain.Item, error) {
	if delta == 0 {
		return nil, store.ErrInvalidRecord
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	item, err := scanItem(pgTx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if item.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE items SET stock = stock + $2, updated_at = now() WHERE id = $1
	`, itemID, delta); err != nil {
		return nil, err
	}
	if err := insertMovement(ctx, pgTx, itemID, delta, domain.MovementAdjustment, "", note, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	item.Stock += delta
	return &item, nil
}

func (s *Store) ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, delta, reason, COALESCE(reference_id,''), note, created_at
		FROM stock_movements
		WHERE ($1 = '' OR item_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Delta, &m.Reason, &m.ReferenceID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Email, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		ORDER BY lower(name) ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateWebhookLog(ctx context.Context, entry domain.WebhookLog) (*domain.WebhookLog, error) {
	if entry.ID == "" {
		entry.ID = xid.New("whk")
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	if entry.ProcessingStatus == "" {
		entry.ProcessingStatus = domain.ProcessingReceived
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (id, gateway, order_id, transaction_id, raw_body, verified, processing_status, detail, received_at, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.Gateway, nullIfEmpty(entry.OrderID), nullIfEmpty(entry.TransactionID), entry.RawBody,
		entry.Verified, entry.ProcessingStatus, entry.Detail, entry.ReceivedAt, nullTime(entry.ProcessedAt))
	if err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) UpdateWebhookLog(ctx context.Context, entry domain.WebhookLog) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_logs
		SET order_id = $2, transaction_id = $3, verified = $4, processing_status = $5, detail = $6, processed_at = $7
		WHERE id = $1
	`, entry.ID, nullIfEmpty(entry.OrderID), nullIfEmpty(entry.TransactionID), entry.Verified,
		entry.ProcessingStatus, entry.Detail, nullTime(entry.ProcessedAt))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListWebhookLogs(ctx context.Context, orderID string, limit int) ([]domain.WebhookLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gateway, COALESCE(order_id,''), COALESCE(transaction_id,''), raw_body, verified,
			processing_status, detail, received_at, processed_at
		FROM webhook_logs
		WHERE ($1 = '' OR order_id = $1)
		ORDER BY received_at DESC, id DESC
		LIMIT $2
	`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.WebhookLog, 0, limit)
	for rows.Next() {
		var entry domain.WebhookLog
		var processedAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.Gateway, &entry.OrderID, &entry.TransactionID, &entry.RawBody,
			&entry.Verified, &entry.ProcessingStatus, &entry.Detail, &entry.ReceivedAt, &processedAt); err != nil {
			return nil, err
		}
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		entry.ProcessedAt = timePtr(processedAt)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

const heldCartColumns = `id, store_id, terminal_id, cashier_username, COALESCE(customer_id,''), note, cart_items, modifiers, payments, held_at`

func scanHeldCart(row interface{ Scan(...any) error }) (domain.HeldCart, error) {
	var held domain.HeldCart
	var itemsRaw, modifiersRaw, paymentsRaw []byte
	if err := row.Scan(&held.ID, &held.StoreID, &held.TerminalID, &held.CashierUsername, &held.CustomerID,
		&held.Note, &itemsRaw, &modifiersRaw, &paymentsRaw, &held.HeldAt); err != nil {
		return held, err
	}
	held.HeldAt = held.HeldAt.UTC()
	if err := json.Unmarshal(itemsRaw, &held.CartItems); err != nil {
		return held, err
	}
	if err := json.Unmarshal(modifiersRaw, &held.Modifiers); err != nil {
		return held, err
	}
	if len(paymentsRaw) > 0 {
		if err := json.Unmarshal(paymentsRaw, &held.Payments); err != nil {
			return held, err
		}
	}
	return held, nil
}

func (s *Store) CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	if held.StoreID == "" || held.TerminalID == "" || len(held.CartItems) == 0 {
		return nil, store.ErrInvalidRecord
	}

	itemsJSON, err := json.Marshal(held.CartItems)
	if err != nil {
		return nil, err
	}
	modifiersJSON, err := json.Marshal(held.Modifiers)
	if err != nil {
		return nil, err
	}
	payments := held.Payments
	if payments == nil {
		payments = []domain.PaymentSplit{}
	}
	paymentsJSON, err := json.Marshal(payments)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_carts (id, store_id, terminal_id, cashier_username, customer_id, note, cart_items, modifiers, payments, held_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, held.ID, held.StoreID, held.TerminalID, held.CashierUsername, nullIfEmpty(held.CustomerID), held.Note,
		itemsJSON, modifiersJSON, paymentsJSON, held.HeldAt)
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

func (s *Store) ListHeldCarts(ctx context.Context, storeID string, terminalID string, limit int) ([]domain.HeldCart, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldCartColumns+`
		FROM held_carts
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR terminal_id = $2)
		ORDER BY held_at DESC
		LIMIT $3
	`, storeID, terminalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	helds := make([]domain.HeldCart, 0, limit)
	for rows.Next() {
		held, err := scanHeldCart(rows)
		if err != nil {
			return nil, err
		}
		helds = append(helds, held)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return helds, nil
}

func (s *Store) PopHeldCart(ctx context.Context, holdID string) (*domain.HeldCart, error) {
	held, err := scanHeldCart(s.db.QueryRowContext(ctx, `
		DELETE FROM held_carts
		WHERE id = $1
		RETURNING `+heldCartColumns, holdID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &held, nil
}

func (s *Store) DeleteHeldCart(ctx context.Context, holdID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_carts WHERE id = $1`, holdID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidRecord
	}
	for _, item := range po.Items {
		if item.ItemID == "" || item.Qty < 1 || item.CostCents < 1 {
			return nil, store.ErrInvalidRecord
		}
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.Status = domain.PurchaseOrderDraft

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var supplierExists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, po.SupplierID).Scan(&supplierExists); err != nil {
		return nil, err
	}
	if !supplierExists {
		return nil, store.ErrNotFound
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, store_id, supplier_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, po.ID, po.StoreID, po.SupplierID, po.Status, po.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, item := range po.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, item_id, qty, cost_cents)
			VALUES ($1,$2,$3,$4)
		`, po.ID, item.ItemID, item.Qty, item.CostCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, item.ItemID)
			}
			return nil, err
		}
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := po
	return &created, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, s.db, purchaseOrderID, false)
}

func getPurchaseOrder(ctx context.Context, q queryer, purchaseOrderID string, forUpdate bool) (*domain.PurchaseOrder, error) {
	query := `
		SELECT id, store_id, supplier_id, status, created_at, received_at, COALESCE(received_by,'')
		FROM purchase_orders
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var po domain.PurchaseOrder
	var receivedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, purchaseOrderID).Scan(
		&po.ID, &po.StoreID, &po.SupplierID, &po.Status, &po.CreatedAt, &receivedAt, &po.ReceivedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.ReceivedAt = timePtr(receivedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT item_id, qty, cost_cents
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, po.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ItemID, &item.Qty, &item.CostCents); err != nil {
			return nil, err
		}
		po.Items = append(po.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	status = strings.ToLower(strings.TrimSpace(status))
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM purchase_orders
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result := make([]domain.PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		po, err := getPurchaseOrder(ctx, s.db, id, false)
		if err != nil {
			return nil, err
		}
		result = append(result, *po)
	}
	return result, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = "system"
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	po, err := getPurchaseOrder(ctx, pgTx, purchaseOrderID, true)
	if err != nil {
		return nil, err
	}
	if po.Status != domain.PurchaseOrderDraft {
		return nil, store.ErrInvalidRecord
	}

	for _, line := range po.Items {
		var stock int
		var cost int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT stock, cost_cents FROM items WHERE id = $1 FOR UPDATE
		`, line.ItemID).Scan(&stock, &cost)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
			}
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE items SET stock = stock + $2, cost_cents = $3, updated_at = now() WHERE id = $1
		`, line.ItemID, line.Qty, store.WeightedCostCents(cost, stock, line.CostCents, line.Qty))
		if err != nil {
			return nil, err
		}
		if err := insertMovement(ctx, pgTx, line.ItemID, line.Qty, domain.MovementPurchaseReceipt, po.ID, "", receivedAt); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE purchase_orders SET status = $2, received_at = $3, received_by = $4 WHERE id = $1
	`, po.ID, domain.PurchaseOrderReceived, receivedAt, receivedBy)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	po.Status = domain.PurchaseOrderReceived
	po.ReceivedAt = &receivedAt
	po.ReceivedBy = receivedBy
	return po, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func insertMovement(ctx context.Context, q queryer, itemID string, delta int, reason domain.MovementReason, referenceID string, note string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, item_id, delta, reason, reference_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, xid.New("mov"), itemID, delta, reason, nullIfEmpty(referenceID), note, at)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
