package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownStatus = errors.New("unknown status")

type PaymentStatus string

const (
	PaymentUnpaid         PaymentStatus = "UNPAID"
	PaymentPendingGateway PaymentStatus = "PENDING_GATEWAY"
	PaymentPartiallyPaid  PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid           PaymentStatus = "PAID"
	PaymentFailed         PaymentStatus = "FAILED"
	PaymentCancelled      PaymentStatus = "CANCELLED"
	PaymentExpired        PaymentStatus = "EXPIRED"
	PaymentFraudFlagged   PaymentStatus = "FRAUD_FLAGGED"
)

type paymentStatusInfo struct {
	label    string
	terminal bool
	aliases  []string
}

// paymentStatuses is the only place payment status labels and legacy
// spellings are defined.
var paymentStatuses = map[PaymentStatus]paymentStatusInfo{
	PaymentUnpaid:         {label: "Belum Dibayar", aliases: []string{"unpaid", "belum_dibayar"}},
	PaymentPendingGateway: {label: "Menunggu Pembayaran", aliases: []string{"pending", "pending_gateway", "menunggu"}},
	PaymentPartiallyPaid:  {label: "Dibayar Sebagian", aliases: []string{"partial", "partially_paid"}},
	PaymentPaid:           {label: "Lunas", terminal: true, aliases: []string{"paid", "lunas", "settlement"}},
	PaymentFailed:         {label: "Gagal", terminal: true, aliases: []string{"failed", "gagal"}},
	PaymentCancelled:      {label: "Dibatalkan", terminal: true, aliases: []string{"cancelled", "canceled", "cancel"}},
	PaymentExpired:        {label: "Kedaluwarsa", terminal: true, aliases: []string{"expired", "expire"}},
	PaymentFraudFlagged:   {label: "Terindikasi Fraud", terminal: true, aliases: []string{"fraud", "fraud_flagged"}},
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentStatuses[s]
	return ok
}

func (s PaymentStatus) IsTerminal() bool {
	return paymentStatuses[s].terminal
}

// IsFailure reports whether s is a terminal status other than PAID.
func (s PaymentStatus) IsFailure() bool {
	return s.IsTerminal() && s != PaymentPaid
}

func (s PaymentStatus) Label() string {
	if info, ok := paymentStatuses[s]; ok {
		return info.label
	}
	return string(s)
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	key := normalizeStatusKey(raw)
	for status, info := range paymentStatuses {
		if normalizeStatusKey(string(status)) == key || normalizeStatusKey(info.label) == key {
			return status, nil
		}
		for _, alias := range info.aliases {
			if alias == key {
				return status, nil
			}
		}
	}
	return "", fmt.Errorf("%w: payment status %q", ErrUnknownStatus, raw)
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "SELESAI"
	TransactionCancelled TransactionStatus = "DIBATALKAN"
)

var transactionStatuses = map[TransactionStatus]struct {
	label   string
	aliases []string
}{
	TransactionPending:   {label: "Menunggu", aliases: []string{"pending", "menunggu", "draft"}},
	TransactionCompleted: {label: "Selesai", aliases: []string{"selesai", "completed", "complete", "done"}},
	TransactionCancelled: {label: "Dibatalkan", aliases: []string{"dibatalkan", "batal", "cancelled", "canceled"}},
}

func (s TransactionStatus) Valid() bool {
	_, ok := transactionStatuses[s]
	return ok
}

func (s TransactionStatus) Label() string {
	if info, ok := transactionStatuses[s]; ok {
		return info.label
	}
	return string(s)
}

// ParseTransactionStatus accepts the canonical code, the display label and
// the legacy spellings found in older data ("Selesai", "completed", ...).
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	key := normalizeStatusKey(raw)
	for status, info := range transactionStatuses {
		if normalizeStatusKey(string(status)) == key {
			return status, nil
		}
		for _, alias := range info.aliases {
			if alias == key {
				return status, nil
			}
		}
	}
	return "", fmt.Errorf("%w: transaction status %q", ErrUnknownStatus, raw)
}

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptSuccess   AttemptStatus = "SUCCESS"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptCancelled AttemptStatus = "CANCELLED"
	AttemptExpired   AttemptStatus = "EXPIRED"
)

func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptPending, AttemptSuccess, AttemptFailed, AttemptCancelled, AttemptExpired:
		return true
	}
	return false
}

// AttemptStatusFor returns the attempt status that mirrors a failure status
// on the owning transaction.
func AttemptStatusFor(status PaymentStatus) AttemptStatus {
	switch status {
	case PaymentPaid:
		return AttemptSuccess
	case PaymentCancelled:
		return AttemptCancelled
	case PaymentExpired:
		return AttemptExpired
	case PaymentFailed, PaymentFraudFlagged:
		return AttemptFailed
	default:
		return AttemptPending
	}
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodQRIS     PaymentMethod = "QRIS"
	MethodDebit    PaymentMethod = "DEBIT"
	MethodCredit   PaymentMethod = "CREDIT"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodGateway  PaymentMethod = "GATEWAY"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	switch method {
	case MethodCash, MethodQRIS, MethodDebit, MethodCredit, MethodTransfer, MethodGateway:
		return method, true
	case "CARD":
		return MethodDebit, true
	}
	return "", false
}

type ProcessingStatus string

const (
	ProcessingReceived         ProcessingStatus = "RECEIVED"
	ProcessingSuccess          ProcessingStatus = "SUCCESS"
	ProcessingAlreadyProcessed ProcessingStatus = "ALREADY_PROCESSED"
	ProcessingIgnored          ProcessingStatus = "IGNORED"
	ProcessingInvalidPayload   ProcessingStatus = "ERROR_INVALID_PAYLOAD"
	ProcessingSignature        ProcessingStatus = "ERROR_SIGNATURE"
	ProcessingGatewayError     ProcessingStatus = "ERROR_GATEWAY"
	ProcessingNotFound         ProcessingStatus = "ERROR_NOT_FOUND"
	ProcessingError            ProcessingStatus = "ERROR_PROCESSING"
)

type MovementReason string

const (
	MovementSale            MovementReason = "SALE"
	MovementAdjustment      MovementReason = "ADJUSTMENT"
	MovementPurchaseReceipt MovementReason = "PURCHASE_RECEIPT"
)

func normalizeStatusKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	return strings.ReplaceAll(key, "-", "_")
}
