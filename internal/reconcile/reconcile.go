// Package reconcile processes payment gateway notifications. Every delivery
// is logged before it is parsed, the gateway is re-queried for the real
// state, and the transaction is settled through the service under its row
// lock so duplicate deliveries cannot apply side effects twice.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"warungpos/internal/domain"
	"warungpos/internal/gateway"
	"warungpos/internal/service"
	"warungpos/internal/store"
)

type Gateway interface {
	TransactionStatus(ctx context.Context, orderID string) (*gateway.Status, error)
	VerifySignature(n gateway.Notification) bool
}

type Payments interface {
	UpdatePaymentStatus(ctx context.Context, transactionID string, change domain.PaymentStatusChange) (domain.PaymentUpdateResult, error)
}

// Store is the subset of the repository the handler reads and logs through.
type Store interface {
	CreateWebhookLog(ctx context.Context, entry domain.WebhookLog) (*domain.WebhookLog, error)
	UpdateWebhookLog(ctx context.Context, entry domain.WebhookLog) error
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*domain.Transaction, error)
	FindTransactionByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error)
}

type Result struct {
	Status        domain.ProcessingStatus `json:"processing_status"`
	HTTPStatus    int                     `json:"-"`
	LogID         string                  `json:"log_id,omitempty"`
	OrderID       string                  `json:"order_id,omitempty"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	PaymentStatus domain.PaymentStatus    `json:"payment_status,omitempty"`
	Detail        string                  `json:"detail,omitempty"`
}

type Handler struct {
	store            Store
	payments         Payments
	gateway          Gateway
	requireSignature bool
	now              func() time.Time
}

func NewHandler(st Store, payments Payments, gw Gateway, requireSignature bool) *Handler {
	return &Handler{
		store:            st,
		payments:         payments,
		gateway:          gw,
		requireSignature: requireSignature,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification never returns without recording an outcome on the
// webhook log entry created for the delivery. The returned error carries the
// cause of any non-2xx result.
func (h *Handler) HandleNotification(ctx context.Context, raw []byte) (result Result, err error) {
	entry, err := h.store.CreateWebhookLog(ctx, domain.WebhookLog{
		Gateway:          gateway.Name,
		RawBody:          string(raw),
		ProcessingStatus: domain.ProcessingReceived,
		ReceivedAt:       h.now(),
	})
	if err != nil {
		log.Printf("[reconcile] ERROR: could not write webhook log: %v", err)
		return Result{Status: domain.ProcessingError, HTTPStatus: http.StatusInternalServerError}, fmt.Errorf("write webhook log: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while reconciling: %v", rec)
			result = Result{
				Status:        domain.ProcessingError,
				HTTPStatus:    http.StatusInternalServerError,
				OrderID:       entry.OrderID,
				TransactionID: entry.TransactionID,
				Detail:        err.Error(),
			}
		}
		result.LogID = entry.ID
		h.finish(ctx, entry, result)
	}()

	return h.process(ctx, entry, raw)
}

func (h *Handler) process(ctx context.Context, entry *domain.WebhookLog, raw []byte) (Result, error) {
	n, err := gateway.ParseNotification(raw)
	if err != nil {
		return outcome(domain.ProcessingInvalidPayload, http.StatusBadRequest, err.Error()), err
	}
	entry.OrderID = n.OrderID

	entry.Verified = h.gateway.VerifySignature(n)
	if !entry.Verified {
		if h.requireSignature {
			err := errors.New("signature verification failed")
			return h.withOrder(entry, outcome(domain.ProcessingSignature, http.StatusUnauthorized, err.Error())), err
		}
		log.Printf("[reconcile] WARN: unverified notification for order %s, relying on status re-query", n.OrderID)
	}

	status, err := h.gateway.TransactionStatus(ctx, n.OrderID)
	if errors.Is(err, gateway.ErrOrderNotFound) {
		return h.withOrder(entry, outcome(domain.ProcessingNotFound, http.StatusNotFound, "order unknown to gateway")), err
	}
	if err != nil {
		return h.withOrder(entry, outcome(domain.ProcessingGatewayError, http.StatusInternalServerError, err.Error())), err
	}
	if status.OrderID != "" && status.OrderID != n.OrderID {
		err := fmt.Errorf("%w: status for %s returned order %s", gateway.ErrInvalidResponse, n.OrderID, status.OrderID)
		return h.withOrder(entry, outcome(domain.ProcessingGatewayError, http.StatusInternalServerError, err.Error())), err
	}

	tx, err := h.resolve(ctx, n.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return h.withOrder(entry, outcome(domain.ProcessingNotFound, http.StatusNotFound, "transaction not found")), err
	}
	if err != nil {
		return h.withOrder(entry, outcome(domain.ProcessingError, http.StatusInternalServerError, err.Error())), err
	}
	entry.TransactionID = tx.ID

	result := h.apply(ctx, tx, n.OrderID, status)
	result.OrderID = entry.OrderID
	result.TransactionID = tx.ID
	if result.HTTPStatus >= http.StatusInternalServerError {
		return result, errors.New(result.Detail)
	}
	return result, nil
}

// resolve tries the id embedded in the order id, then the stored gateway
// order id, then the receipt number.
func (h *Handler) resolve(ctx context.Context, orderID string) (*domain.Transaction, error) {
	if id, ok := gateway.TransactionIDFromOrder(orderID); ok {
		tx, err := h.store.FindTransactionByID(ctx, id)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	tx, err := h.store.FindTransactionByGatewayOrderID(ctx, orderID)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return tx, err
	}
	return h.store.FindTransactionByReceiptNumber(ctx, orderID)
}

// apply settles the transaction from the gateway status. Only a payment may
// be taken from an order id the transaction has since replaced with a newer
// link; its failures and pending states say nothing about the live link.
func (h *Handler) apply(ctx context.Context, tx *domain.Transaction, orderID string, status *gateway.Status) Result {
	kind := status.Outcome()
	target := kind.PaymentStatus()
	if target == "" {
		return Result{
			Status:        domain.ProcessingIgnored,
			HTTPStatus:    http.StatusOK,
			PaymentStatus: tx.PaymentStatus,
			Detail:        fmt.Sprintf("unhandled gateway status %q/%q", status.TransactionStatus, status.FraudStatus),
		}
	}
	if superseded(tx, orderID) && target != domain.PaymentPaid {
		log.Printf("[reconcile] WARN: ignoring %s for superseded order %s of transaction %s (current %s)", kind, orderID, tx.ID, tx.GatewayOrderID)
		return Result{
			Status:        domain.ProcessingIgnored,
			HTTPStatus:    http.StatusOK,
			PaymentStatus: tx.PaymentStatus,
			Detail:        fmt.Sprintf("order %s superseded by %s", orderID, tx.GatewayOrderID),
		}
	}
	if tx.PaymentStatus == domain.PaymentPaid && target == domain.PaymentPaid {
		return Result{Status: domain.ProcessingAlreadyProcessed, HTTPStatus: http.StatusOK, PaymentStatus: tx.PaymentStatus}
	}

	amount, err := status.AmountCents()
	if err != nil {
		return Result{Status: domain.ProcessingGatewayError, HTTPStatus: http.StatusInternalServerError, Detail: err.Error()}
	}

	change := domain.PaymentStatusChange{
		Attempts: []domain.AttemptUpdate{{
			Method:             domain.MethodGateway,
			AmountCents:        amount,
			Status:             domain.AttemptStatusFor(target),
			GatewayPaymentID:   status.TransactionID,
			GatewayResponseRaw: string(status.Raw),
			Reference:          status.PaymentType,
		}},
	}
	if target.IsFailure() {
		change.FailWith = target
	}

	updated, err := h.payments.UpdatePaymentStatus(ctx, tx.ID, change)
	switch {
	case errors.Is(err, service.ErrTerminalTransaction), errors.Is(err, service.ErrTooManyPayments):
		log.Printf("[reconcile] WARN: ignoring %s for transaction %s: %v", kind, tx.ID, err)
		return Result{Status: domain.ProcessingIgnored, HTTPStatus: http.StatusOK, PaymentStatus: tx.PaymentStatus, Detail: err.Error()}
	case err != nil:
		return Result{Status: domain.ProcessingError, HTTPStatus: http.StatusInternalServerError, Detail: err.Error()}
	case updated.AlreadyProcessed:
		return Result{Status: domain.ProcessingAlreadyProcessed, HTTPStatus: http.StatusOK, PaymentStatus: updated.Transaction.PaymentStatus}
	}

	log.Printf("[reconcile] transaction %s -> %s (gateway %s/%s, stock_deducted_now=%t)",
		tx.ID, updated.Transaction.PaymentStatus, status.TransactionStatus, status.FraudStatus, updated.StockDeducted)
	return Result{Status: domain.ProcessingSuccess, HTTPStatus: http.StatusOK, PaymentStatus: updated.Transaction.PaymentStatus}
}

// superseded reports whether orderID is an earlier gateway order of tx.
// Receipt numbers and bare transaction ids never count as superseded.
func superseded(tx *domain.Transaction, orderID string) bool {
	if tx.GatewayOrderID == "" || orderID == tx.GatewayOrderID {
		return false
	}
	id, ok := gateway.TransactionIDFromOrder(orderID)
	return ok && id == tx.ID
}

func (h *Handler) finish(ctx context.Context, entry *domain.WebhookLog, result Result) {
	processedAt := h.now()
	entry.ProcessingStatus = result.Status
	entry.Detail = result.Detail
	entry.ProcessedAt = &processedAt

	// The caller may have gone away; the outcome must still be written.
	if err := h.store.UpdateWebhookLog(context.WithoutCancel(ctx), *entry); err != nil {
		log.Printf("[reconcile] ERROR: could not record outcome %s for webhook %s: %v", result.Status, entry.ID, err)
	}
	if result.HTTPStatus >= http.StatusBadRequest {
		log.Printf("[reconcile] WARN: webhook %s order=%s -> %s: %s", entry.ID, entry.OrderID, result.Status, result.Detail)
	}
}

func (h *Handler) withOrder(entry *domain.WebhookLog, result Result) Result {
	result.OrderID = entry.OrderID
	result.TransactionID = entry.TransactionID
	return result
}

func outcome(status domain.ProcessingStatus, httpStatus int, detail string) Result {
	return Result{Status: status, HTTPStatus: httpStatus, Detail: detail}
}
