package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"warungpos/internal/checkout"
	"warungpos/internal/domain"
	"warungpos/internal/gateway"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

const receiptAttempts = 5

// errNoop aborts a mutation that turned out to be an idempotent replay.
var errNoop = errors.New("no change")

func (s *Service) Quote(ctx context.Context, req domain.CheckoutRequest) (domain.QuoteResponse, error) {
	if err := checkout.ValidateModifiers(req.Modifiers); err != nil {
		return domain.QuoteResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	lines, _, err := s.buildLines(ctx, req.CartItems)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return domain.QuoteResponse{Lines: lines, Totals: checkout.Calculate(lines, req.Modifiers)}, nil
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.CheckoutRequest) (domain.Transaction, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.TerminalID == "" {
		return domain.Transaction{}, invalid("terminal_id is required")
	}
	if err := checkout.ValidateModifiers(req.Modifiers); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	lines, items, err := s.buildLines(ctx, req.CartItems)
	if err != nil {
		return domain.Transaction{}, err
	}
	for _, line := range lines {
		if items[line.ItemID].Stock < line.Qty {
			return domain.Transaction{}, fmt.Errorf("%w: item %s", store.ErrInsufficientStock, line.ItemID)
		}
	}
	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.Transaction{}, fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}
	}

	totals := checkout.Calculate(lines, req.Modifiers)
	now := s.now()
	attempts, err := planAttempts(req.Payments, totals.GrandTotalCents, now)
	if err != nil {
		return domain.Transaction{}, err
	}

	cashier := "system"
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		cashier = actor.Username
	}

	tx := domain.Transaction{
		ID:               xid.New("tx"),
		StoreID:          req.StoreID,
		TerminalID:       req.TerminalID,
		CashierID:        cashier,
		CustomerID:       req.CustomerID,
		Lines:            lines,
		DiscountPercent:  req.Modifiers.DiscountPercent,
		TaxPercent:       req.Modifiers.TaxPercent,
		SubtotalCents:    totals.SubtotalCents,
		DiscountCents:    totals.DiscountCents,
		TaxCents:         totals.TaxCents,
		DeliveryFeeCents: totals.DeliveryFeeCents,
		GrandTotalCents:  totals.GrandTotalCents,
		PaymentStatus:    domain.PaymentUnpaid,
		Status:           domain.TransactionPending,
		Attempts:         attempts,
		CreatedAt:        now,
	}
	if hasGatewayAttempt(tx.Attempts) {
		tx.GatewayName = gateway.Name
		tx.GatewayOrderID = gateway.OrderID(tx.ID, now.Unix())
	}
	settle(&tx, now)

	var created *domain.Transaction
	for i := 0; i < receiptAttempts; i++ {
		tx.ReceiptNumber = s.receiptNumber(now)
		created, err = s.repo.CreateTransaction(ctx, tx)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
		log.Printf("[service] WARN: receipt %s collided, retrying", tx.ReceiptNumber)
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if created.StockDeducted {
		s.invalidateReports(ctx)
	}

	s.logAudit(ctx, created.StoreID, "transaction_create", "transaction", created.ID, fmt.Sprintf(
		"receipt=%s,total=%d,payment_status=%s,attempts=%d",
		created.ReceiptNumber, created.GrandTotalCents, created.PaymentStatus, len(created.Attempts),
	))

	if created.PaymentStatus == domain.PaymentPendingGateway {
		linked, err := s.issuePaymentLink(ctx, created.ID)
		if err != nil {
			log.Printf("[service] WARN: payment link for %s failed, can be retried: %v", created.ID, err)
		} else {
			created = linked
		}
	}
	return *created, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Transaction{}, invalid("transaction id is required")
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, date string, status string, limit int) ([]domain.Transaction, error) {
	var paymentStatus domain.PaymentStatus
	if strings.TrimSpace(status) != "" {
		parsed, err := domain.ParsePaymentStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		paymentStatus = parsed
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		day, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		from = day
	}
	return s.repo.ListTransactions(ctx, from, from.Add(24*time.Hour), paymentStatus, limit)
}

// RecordCashPayment confirms the pending cash attempt, creating one for the
// outstanding balance when the plan had none. A balance still owed to a live
// gateway payment cannot be taken in cash.
func (s *Service) RecordCashPayment(ctx context.Context, transactionID string, req domain.CashPaymentRequest) (domain.PaymentUpdateResult, error) {
	if req.AmountTenderedCents < 1 {
		return domain.PaymentUpdateResult{}, invalid("amount_tendered_cents must be positive")
	}

	var result domain.PaymentUpdateResult
	updated, err := s.repo.MutateTransaction(ctx, transactionID, func(tx *domain.Transaction) error {
		if tx.PaymentStatus == domain.PaymentPaid {
			result.AlreadyProcessed = true
			return errNoop
		}
		if tx.PaymentStatus.IsTerminal() {
			return ErrTerminalTransaction
		}

		now := s.now()
		idx := -1
		for i, attempt := range tx.Attempts {
			if attempt.Method == domain.MethodCash && attempt.Status == domain.AttemptPending {
				idx = i
				break
			}
		}
		if idx < 0 {
			if hasPendingGateway(tx.Attempts) {
				return fmt.Errorf("%w: transaction %s", ErrGatewayPending, tx.ID)
			}
			if len(tx.Attempts) >= store.MaxPaymentAttempts {
				return ErrTooManyPayments
			}
			remaining := tx.GrandTotalCents - tx.PaidCents()
			if remaining < 1 {
				return invalid("nothing left to pay")
			}
			tx.Attempts = append(tx.Attempts, domain.PaymentAttempt{
				Method:      domain.MethodCash,
				AmountCents: remaining,
				Status:      domain.AttemptPending,
				CreatedAt:   now,
			})
			idx = len(tx.Attempts) - 1
		}

		attempt := &tx.Attempts[idx]
		if req.AmountTenderedCents < attempt.AmountCents {
			return invalid("tendered %d does not cover %d", req.AmountTenderedCents, attempt.AmountCents)
		}
		attempt.Status = domain.AttemptSuccess
		attempt.TenderedCents = req.AmountTenderedCents
		attempt.ChangeCents = req.AmountTenderedCents - attempt.AmountCents
		attempt.UpdatedAt = now

		result.StockDeducted = settle(tx, now)
		return nil
	})
	return s.finishUpdate(ctx, transactionID, "cash_payment", updated, result, err)
}

// UpdatePaymentStatus applies attempt updates and an optional forced failure,
// then settles the transaction under the row lock.
func (s *Service) UpdatePaymentStatus(ctx context.Context, transactionID string, change domain.PaymentStatusChange) (domain.PaymentUpdateResult, error) {
	if err := validateChange(change); err != nil {
		return domain.PaymentUpdateResult{}, err
	}

	var result domain.PaymentUpdateResult
	updated, err := s.repo.MutateTransaction(ctx, transactionID, func(tx *domain.Transaction) error {
		if tx.PaymentStatus.IsTerminal() {
			if tx.PaymentStatus == domain.PaymentPaid && paidEquivalent(change) {
				result.AlreadyProcessed = true
				return errNoop
			}
			return fmt.Errorf("%w: %s", ErrTerminalTransaction, tx.PaymentStatus)
		}

		now := s.now()
		for _, update := range change.Attempts {
			if err := applyAttemptUpdate(tx, update, now); err != nil {
				return err
			}
		}

		if change.FailWith != "" {
			tx.PaymentStatus = change.FailWith
			tx.Status = domain.TransactionCancelled
			return nil
		}
		result.StockDeducted = settle(tx, now)
		return nil
	})
	return s.finishUpdate(ctx, transactionID, "payment_update", updated, result, err)
}

func (s *Service) finishUpdate(ctx context.Context, transactionID string, action string, updated *domain.Transaction, result domain.PaymentUpdateResult, err error) (domain.PaymentUpdateResult, error) {
	if errors.Is(err, errNoop) {
		current, findErr := s.repo.FindTransactionByID(ctx, transactionID)
		if findErr != nil {
			return domain.PaymentUpdateResult{}, findErr
		}
		result.Transaction = *current
		return result, nil
	}
	if err != nil {
		return domain.PaymentUpdateResult{}, err
	}

	result.Transaction = *updated
	s.invalidateReports(ctx)
	s.logAudit(ctx, updated.StoreID, action, "transaction", updated.ID, fmt.Sprintf(
		"payment_status=%s,paid=%d,stock_deducted_now=%t",
		updated.PaymentStatus, updated.PaidCents(), result.StockDeducted,
	))
	return result, nil
}

// CreatePaymentLink requests a fresh hosted payment page for a transaction
// still waiting on the gateway.
func (s *Service) CreatePaymentLink(ctx context.Context, transactionID string) (domain.PaymentLinkResponse, error) {
	tx, err := s.issuePaymentLink(ctx, transactionID)
	if err != nil {
		return domain.PaymentLinkResponse{}, err
	}
	return domain.PaymentLinkResponse{
		TransactionID:  tx.ID,
		GatewayOrderID: tx.GatewayOrderID,
		PaymentURL:     tx.PaymentURL,
		PaymentToken:   tx.PaymentToken,
	}, nil
}

func (s *Service) issuePaymentLink(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.PaymentStatus.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalTransaction, tx.PaymentStatus)
	}
	if tx.PaymentStatus != domain.PaymentPendingGateway || tx.GatewayOrderID == "" {
		return nil, invalid("transaction %s has no pending gateway payment", tx.ID)
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: not configured", ErrGatewayUnavailable)
	}

	// A gateway order id that already carries a link cannot be reused.
	orderID := tx.GatewayOrderID
	if tx.PaymentURL != "" {
		orderID = gateway.NextOrderID(tx.ID, tx.GatewayOrderID, s.now())
	}

	linkReq := gateway.LinkRequest{OrderID: orderID, GrossAmountCents: gatewayAmount(tx)}
	if tx.CustomerID != "" {
		if customer, err := s.repo.GetCustomer(ctx, tx.CustomerID); err == nil {
			linkReq.CustomerName = customer.Name
			linkReq.CustomerEmail = customer.Email
			linkReq.CustomerPhone = customer.Phone
		}
	}

	link, err := s.gateway.CreatePaymentLink(ctx, linkReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return s.repo.MutateTransaction(ctx, tx.ID, func(current *domain.Transaction) error {
		if current.PaymentStatus != domain.PaymentPendingGateway {
			return fmt.Errorf("%w: %s", ErrTerminalTransaction, current.PaymentStatus)
		}
		current.GatewayName = gateway.Name
		current.GatewayOrderID = orderID
		current.PaymentURL = link.RedirectURL
		current.PaymentToken = link.Token
		return nil
	})
}

// buildLines merges duplicate cart entries and snapshots catalog prices.
func (s *Service) buildLines(ctx context.Context, cart []domain.CartItem) ([]domain.TransactionLine, map[string]domain.Item, error) {
	merged := make([]domain.CartItem, 0, len(cart))
	index := make(map[string]int, len(cart))
	for _, entry := range cart {
		entry.ItemID = strings.TrimSpace(entry.ItemID)
		if entry.ItemID == "" {
			return nil, nil, invalid("item_id is required")
		}
		if i, seen := index[entry.ItemID]; seen {
			merged[i].Qty += entry.Qty
			merged[i].LineDiscountCents += entry.LineDiscountCents
			continue
		}
		index[entry.ItemID] = len(merged)
		merged = append(merged, entry)
	}
	if len(merged) == 0 {
		return nil, nil, ErrEmptyCart
	}

	ids := make([]string, 0, len(merged))
	for _, entry := range merged {
		ids = append(ids, entry.ItemID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]domain.TransactionLine, 0, len(merged))
	for _, entry := range merged {
		item, ok := items[entry.ItemID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, entry.ItemID)
		}
		lines = append(lines, domain.TransactionLine{
			ItemID:            item.ID,
			SKU:               item.SKU,
			Name:              item.Name,
			UnitPriceCents:    item.PriceCents,
			CostCents:         item.CostCents,
			Qty:               entry.Qty,
			LineDiscountCents: entry.LineDiscountCents,
		})
	}
	if err := checkout.ValidateLines(lines); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return lines, items, nil
}

// planAttempts turns the submitted payment plan into initial attempts.
func planAttempts(plan []domain.PaymentSplit, grandTotal int64, now time.Time) ([]domain.PaymentAttempt, error) {
	if len(plan) > store.MaxPaymentAttempts {
		return nil, ErrTooManyPayments
	}
	plan = slices.Clone(plan)
	if len(plan) == 1 && plan[0].AmountCents == 0 {
		plan[0].AmountCents = grandTotal
	}

	attempts := make([]domain.PaymentAttempt, 0, len(plan))
	var sum int64
	gatewayEntries := 0
	for _, entry := range plan {
		method, ok := domain.ParsePaymentMethod(string(entry.Method))
		if !ok {
			return nil, invalid("unsupported payment method %q", entry.Method)
		}
		if entry.AmountCents < 0 || entry.CashTenderedCents < 0 {
			return nil, invalid("payment amounts must not be negative")
		}
		sum += entry.AmountCents

		attempt := domain.PaymentAttempt{
			Method:      method,
			AmountCents: entry.AmountCents,
			Status:      domain.AttemptPending,
			Reference:   strings.TrimSpace(entry.Reference),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		switch method {
		case domain.MethodCash:
			if entry.CashTenderedCents > 0 {
				if entry.CashTenderedCents < entry.AmountCents {
					return nil, invalid("cash tendered %d does not cover %d", entry.CashTenderedCents, entry.AmountCents)
				}
				attempt.Status = domain.AttemptSuccess
				attempt.TenderedCents = entry.CashTenderedCents
				attempt.ChangeCents = entry.CashTenderedCents - entry.AmountCents
			}
		case domain.MethodGateway:
			gatewayEntries++
		default:
			// EDC and transfer payments are confirmed by their reference.
			if attempt.Reference != "" {
				attempt.Status = domain.AttemptSuccess
			}
		}
		attempts = append(attempts, attempt)
	}
	if gatewayEntries > 1 {
		return nil, invalid("only one gateway payment per transaction")
	}
	if len(plan) > 0 && sum != grandTotal {
		return nil, invalid("payments sum to %d, grand total is %d", sum, grandTotal)
	}
	return attempts, nil
}

func validateChange(change domain.PaymentStatusChange) error {
	if change.FailWith != "" && !change.FailWith.IsFailure() {
		return invalid("fail_with must be a failure status, got %q", change.FailWith)
	}
	if len(change.Attempts) == 0 && change.FailWith == "" {
		return invalid("no payment updates")
	}
	for _, update := range change.Attempts {
		if !update.Status.Valid() {
			return invalid("unknown attempt status %q", update.Status)
		}
		if update.Method != "" {
			if _, ok := domain.ParsePaymentMethod(string(update.Method)); !ok {
				return invalid("unsupported payment method %q", update.Method)
			}
		}
		if update.AmountCents < 0 {
			return invalid("amount must not be negative")
		}
	}
	return nil
}

func paidEquivalent(change domain.PaymentStatusChange) bool {
	if change.FailWith != "" {
		return false
	}
	for _, update := range change.Attempts {
		if update.Status == domain.AttemptSuccess {
			return true
		}
	}
	return false
}

func applyAttemptUpdate(tx *domain.Transaction, update domain.AttemptUpdate, now time.Time) error {
	method, _ := domain.ParsePaymentMethod(string(update.Method))
	idx := matchAttempt(tx.Attempts, update, method)
	if idx < 0 {
		if len(tx.Attempts) >= store.MaxPaymentAttempts {
			return ErrTooManyPayments
		}
		if method == "" {
			return invalid("method is required for a new attempt")
		}
		amount := update.AmountCents
		if amount == 0 {
			amount = tx.GrandTotalCents - tx.PaidCents()
		}
		tx.Attempts = append(tx.Attempts, domain.PaymentAttempt{
			Method:      method,
			AmountCents: amount,
			Status:      domain.AttemptPending,
			CreatedAt:   now,
		})
		idx = len(tx.Attempts) - 1
	}

	attempt := &tx.Attempts[idx]
	attempt.Status = update.Status
	if update.AmountCents > 0 {
		attempt.AmountCents = update.AmountCents
	}
	if update.GatewayPaymentID != "" {
		attempt.GatewayPaymentID = update.GatewayPaymentID
	}
	if update.GatewayResponseRaw != "" {
		attempt.GatewayResponseRaw = update.GatewayResponseRaw
	}
	if update.Reference != "" {
		attempt.Reference = update.Reference
	}
	attempt.UpdatedAt = now
	return nil
}

func matchAttempt(attempts []domain.PaymentAttempt, update domain.AttemptUpdate, method domain.PaymentMethod) int {
	if update.AttemptID != "" {
		for i, attempt := range attempts {
			if attempt.ID == update.AttemptID {
				return i
			}
		}
	}
	if update.GatewayPaymentID != "" {
		for i, attempt := range attempts {
			if attempt.GatewayPaymentID == update.GatewayPaymentID {
				return i
			}
		}
	}
	if method == "" {
		return -1
	}
	last := -1
	for i, attempt := range attempts {
		if attempt.Method != method {
			continue
		}
		if attempt.Status == domain.AttemptPending {
			return i
		}
		last = i
	}
	return last
}

// settle derives the payment status from the attempts. A transaction is paid
// once every attempt succeeded and they cover the total. It reports whether
// this call is the one that flipped StockDeducted.
func settle(tx *domain.Transaction, now time.Time) bool {
	paid := tx.PaidCents()
	if paid >= tx.GrandTotalCents && !hasPendingAttempt(tx.Attempts) {
		tx.PaymentStatus = domain.PaymentPaid
		tx.Status = domain.TransactionCompleted
		if tx.PaidAt == nil {
			tx.PaidAt = &now
		}
		if !tx.StockDeducted {
			tx.StockDeducted = true
			return true
		}
		return false
	}

	tx.Status = domain.TransactionPending
	switch {
	case hasPendingGateway(tx.Attempts):
		tx.PaymentStatus = domain.PaymentPendingGateway
	case paid > 0:
		tx.PaymentStatus = domain.PaymentPartiallyPaid
	default:
		tx.PaymentStatus = domain.PaymentUnpaid
	}
	return false
}

func hasGatewayAttempt(attempts []domain.PaymentAttempt) bool {
	for _, attempt := range attempts {
		if attempt.Method == domain.MethodGateway {
			return true
		}
	}
	return false
}

func hasPendingAttempt(attempts []domain.PaymentAttempt) bool {
	for _, attempt := range attempts {
		if attempt.Status == domain.AttemptPending {
			return true
		}
	}
	return false
}

func hasPendingGateway(attempts []domain.PaymentAttempt) bool {
	for _, attempt := range attempts {
		if attempt.Method == domain.MethodGateway && attempt.Status == domain.AttemptPending {
			return true
		}
	}
	return false
}

func gatewayAmount(tx *domain.Transaction) int64 {
	for _, attempt := range tx.Attempts {
		if attempt.Method == domain.MethodGateway && attempt.Status == domain.AttemptPending {
			return attempt.AmountCents
		}
	}
	return tx.GrandTotalCents - tx.PaidCents()
}

func (s *Service) receiptNumber(now time.Time) string {
	return fmt.Sprintf("INV/%s/%06d", now.In(s.location).Format("20060102"), rand.IntN(1_000_000))
}
