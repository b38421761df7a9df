package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"warungpos/internal/domain"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

const transactionColumns = `
	id, receipt_number, store_id, terminal_id, cashier_id, COALESCE(customer_id,''),
	discount_percent, tax_percent, subtotal_cents, discount_cents, tax_cents,
	delivery_fee_cents, grand_total_cents, payment_status, status,
	COALESCE(gateway_name,''), COALESCE(gateway_order_id,''), COALESCE(payment_url,''),
	COALESCE(payment_token,''), stock_deducted, created_at, updated_at, paid_at`

func scanTransaction(row interface{ Scan(...any) error }) (domain.Transaction, error) {
	var tx domain.Transaction
	var paidAt sql.NullTime
	err := row.Scan(
		&tx.ID,
		&tx.ReceiptNumber,
		&tx.StoreID,
		&tx.TerminalID,
		&tx.CashierID,
		&tx.CustomerID,
		&tx.DiscountPercent,
		&tx.TaxPercent,
		&tx.SubtotalCents,
		&tx.DiscountCents,
		&tx.TaxCents,
		&tx.DeliveryFeeCents,
		&tx.GrandTotalCents,
		&tx.PaymentStatus,
		&tx.Status,
		&tx.GatewayName,
		&tx.GatewayOrderID,
		&tx.PaymentURL,
		&tx.PaymentToken,
		&tx.StockDeducted,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&paidAt,
	)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	tx.PaidAt = timePtr(paidAt)
	return tx, err
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "id", id, false)
}

func (s *Store) FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "gateway_order_id", orderID, false)
}

func (s *Store) FindTransactionByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "receipt_number", receipt, false)
}

func findTransaction(ctx context.Context, q queryer, column string, value string, forUpdate bool) (*domain.Transaction, error) {
	switch column {
	case "id", "gateway_order_id", "receipt_number":
	default:
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s = $1`, transactionColumns, column)
	if forUpdate {
		query += ` FOR UPDATE`
	}

	tx, err := scanTransaction(q.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	byTx := map[string]*domain.Transaction{tx.ID: &tx}
	if err := loadChildren(ctx, q, byTx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// loadChildren fills lines and attempts for every transaction in byTx.
func loadChildren(ctx context.Context, q queryer, byTx map[string]*domain.Transaction) error {
	if len(byTx) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byTx))
	for id := range byTx {
		ids = append(ids, id)
	}

	lineRows, err := q.QueryContext(ctx, `
		SELECT transaction_id, item_id, sku, name, unit_price_cents, cost_cents, qty, line_discount_cents
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	for lineRows.Next() {
		var txID string
		var line domain.TransactionLine
		if err := lineRows.Scan(&txID, &line.ItemID, &line.SKU, &line.Name, &line.UnitPriceCents,
			&line.CostCents, &line.Qty, &line.LineDiscountCents); err != nil {
			_ = lineRows.Close()
			return err
		}
		byTx[txID].Lines = append(byTx[txID].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return err
	}
	_ = lineRows.Close()

	attemptRows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, method, amount_cents, tendered_cents, change_cents, status,
			COALESCE(gateway_payment_id,''), COALESCE(gateway_response_raw,''), COALESCE(reference,''),
			created_at, updated_at
		FROM payment_attempts
		WHERE transaction_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer attemptRows.Close()

	for attemptRows.Next() {
		var a domain.PaymentAttempt
		if err := attemptRows.Scan(&a.ID, &a.TransactionID, &a.Method, &a.AmountCents, &a.TenderedCents,
			&a.ChangeCents, &a.Status, &a.GatewayPaymentID, &a.GatewayResponseRaw, &a.Reference,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		byTx[a.TransactionID].Attempts = append(byTx[a.TransactionID].Attempts, a)
	}
	return attemptRows.Err()
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Lines) == 0 || tx.ReceiptNumber == "" {
		return nil, store.ErrInvalidRecord
	}
	if len(tx.Attempts) > store.MaxPaymentAttempts {
		return nil, store.ErrInvalidRecord
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, receipt_number, store_id, terminal_id, cashier_id, customer_id,
			discount_percent, tax_percent, subtotal_cents, discount_cents, tax_cents,
			delivery_fee_cents, grand_total_cents, payment_status, status,
			gateway_name, gateway_order_id, payment_url, payment_token, stock_deducted,
			created_at, updated_at, paid_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, tx.ID, tx.ReceiptNumber, tx.StoreID, tx.TerminalID, tx.CashierID, nullIfEmpty(tx.CustomerID),
		tx.DiscountPercent, tx.TaxPercent, tx.SubtotalCents, tx.DiscountCents, tx.TaxCents,
		tx.DeliveryFeeCents, tx.GrandTotalCents, tx.PaymentStatus, tx.Status,
		nullIfEmpty(tx.GatewayName), nullIfEmpty(tx.GatewayOrderID), nullIfEmpty(tx.PaymentURL),
		nullIfEmpty(tx.PaymentToken), tx.StockDeducted, tx.CreatedAt, tx.UpdatedAt, nullTime(tx.PaidAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: receipt %s", store.ErrDuplicate, tx.ReceiptNumber)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, tx.CustomerID)
		}
		return nil, err
	}

	for _, line := range tx.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, item_id, sku, name, unit_price_cents, cost_cents, qty, line_discount_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, tx.ID, line.ItemID, line.SKU, line.Name, line.UnitPriceCents, line.CostCents, line.Qty, line.LineDiscountCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
			}
			return nil, err
		}
	}
	if err := upsertAttempts(ctx, pgTx, tx.Attempts); err != nil {
		return nil, err
	}
	if tx.StockDeducted {
		if err := decrementLines(ctx, pgTx, tx, true, now); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) MutateTransaction(ctx context.Context, id string, fn store.TransactionMutation) (*domain.Transaction, error) {
	// FOR UPDATE below serializes writers on the row.
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	current, err := findTransaction(ctx, pgTx, "id", id, true)
	if err != nil {
		return nil, err
	}

	working := *current
	working.Lines = append([]domain.TransactionLine(nil), current.Lines...)
	working.Attempts = append([]domain.PaymentAttempt(nil), current.Attempts...)
	if err := fn(&working); err != nil {
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

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $2, status = $3, gateway_name = $4, gateway_order_id = $5,
			payment_url = $6, payment_token = $7, stock_deducted = $8, updated_at = $9,
			paid_at = $10, customer_id = $11
		WHERE id = $1
	`, id, working.PaymentStatus, working.Status, nullIfEmpty(working.GatewayName),
		nullIfEmpty(working.GatewayOrderID), nullIfEmpty(working.PaymentURL), nullIfEmpty(working.PaymentToken),
		working.StockDeducted, working.UpdatedAt, nullTime(working.PaidAt), nullIfEmpty(working.CustomerID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: gateway order %s", store.ErrDuplicate, working.GatewayOrderID)
		}
		return nil, err
	}
	if err := upsertAttempts(ctx, pgTx, working.Attempts); err != nil {
		return nil, err
	}
	if !current.StockDeducted && working.StockDeducted {
		if err := decrementLines(ctx, pgTx, working, false, now); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &working, nil
}

func (s *Store) ListTransactions(ctx context.Context, from time.Time, to time.Time, status domain.PaymentStatus, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 5000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2 AND ($3 = '' OR payment_status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, from, to, string(status), limit)
	if err != nil {
		return nil, err
	}

	result := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	byTx := make(map[string]*domain.Transaction, len(result))
	for i := range result {
		byTx[result[i].ID] = &result[i]
	}
	if err := loadChildren(ctx, s.db, byTx); err != nil {
		return nil, err
	}
	return result, nil
}

func upsertAttempts(ctx context.Context, q queryer, attempts []domain.PaymentAttempt) error {
	for _, a := range attempts {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payment_attempts (
				id, transaction_id, method, amount_cents, tendered_cents, change_cents, status,
				gateway_payment_id, gateway_response_raw, reference, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				method = EXCLUDED.method,
				amount_cents = EXCLUDED.amount_cents,
				tendered_cents = EXCLUDED.tendered_cents,
				change_cents = EXCLUDED.change_cents,
				status = EXCLUDED.status,
				gateway_payment_id = EXCLUDED.gateway_payment_id,
				gateway_response_raw = EXCLUDED.gateway_response_raw,
				reference = EXCLUDED.reference,
				updated_at = EXCLUDED.updated_at
		`, a.ID, a.TransactionID, a.Method, a.AmountCents, a.TenderedCents, a.ChangeCents, a.Status,
			nullIfEmpty(a.GatewayPaymentID), nullIfEmpty(a.GatewayResponseRaw), nullIfEmpty(a.Reference),
			a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// decrementLines applies a sale to stock inside q. With strict set, a line
// that would drive stock negative aborts with ErrInsufficientStock.
func decrementLines(ctx context.Context, q queryer, tx domain.Transaction, strict bool, at time.Time) error {
	for _, line := range tx.Lines {
		var remaining int
		err := q.QueryRowContext(ctx, `
			UPDATE items
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND (NOT $3 OR stock >= $2)
			RETURNING stock
		`, line.ItemID, line.Qty, strict).Scan(&remaining)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if strict {
					return fmt.Errorf("%w: item %s", store.ErrInsufficientStock, line.ItemID)
				}
				return fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
			}
			return err
		}
		if remaining < 0 {
			log.Printf("[postgres-store] WARN: stock for %s went negative (%d) settling %s", line.ItemID, remaining, tx.ID)
		}
		if err := insertMovement(ctx, q, line.ItemID, -line.Qty, domain.MovementSale, tx.ID, tx.ReceiptNumber, at); err != nil {
			return err
		}
	}
	return nil
}
