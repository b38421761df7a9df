// Package gateway talks to a Midtrans-compatible payment gateway and turns
// its loosely shaped payloads into typed values before anything branches on
// them.
package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
)

const Name = "midtrans"

var (
	ErrOrderNotFound   = errors.New("gateway order not found")
	ErrUnavailable     = errors.New("gateway unavailable")
	ErrInvalidResponse = errors.New("invalid gateway response")
	ErrInvalidPayload  = errors.New("invalid notification payload")
)

type Client interface {
	TransactionStatus(ctx context.Context, orderID string) (*Status, error)
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*PaymentLink, error)
	VerifySignature(n Notification) bool
}

// Notification is the inbound webhook body. Only OrderID is trusted for
// routing; state always comes from a fresh TransactionStatus call.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
	PaymentType       string `json:"payment_type"`
}

func ParseNotification(raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	n.OrderID = strings.TrimSpace(n.OrderID)
	if n.OrderID == "" {
		return Notification{}, fmt.Errorf("%w: order_id is required", ErrInvalidPayload)
	}
	return n, nil
}

// Signature computes sha512(order_id + status_code + gross_amount + server_key).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func verifySignature(n Notification, serverKey string) bool {
	if serverKey == "" || n.SignatureKey == "" {
		return false
	}
	expected := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(n.SignatureKey))) == 1
}

type Outcome string

const (
	OutcomePaid      Outcome = "PAID"
	OutcomeFraud     Outcome = "FRAUD"
	OutcomePending   Outcome = "PENDING"
	OutcomeDenied    Outcome = "DENIED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeExpired   Outcome = "EXPIRED"
	OutcomeUnknown   Outcome = "UNKNOWN"
)

// PaymentStatus is the internal status an outcome settles to. Unknown
// outcomes map to the empty status.
func (o Outcome) PaymentStatus() domain.PaymentStatus {
	switch o {
	case OutcomePaid:
		return domain.PaymentPaid
	case OutcomeFraud:
		return domain.PaymentFraudFlagged
	case OutcomePending:
		return domain.PaymentPendingGateway
	case OutcomeDenied:
		return domain.PaymentFailed
	case OutcomeCancelled:
		return domain.PaymentCancelled
	case OutcomeExpired:
		return domain.PaymentExpired
	default:
		return ""
	}
}

// Status is the authoritative transaction state returned by the gateway.
type Status struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	GrossAmount       string `json:"gross_amount"`
	TransactionTime   string `json:"transaction_time"`
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	Raw               []byte `json:"-"`
}

func (s Status) Outcome() Outcome {
	fraud := strings.ToLower(strings.TrimSpace(s.FraudStatus))
	switch strings.ToLower(strings.TrimSpace(s.TransactionStatus)) {
	case "capture", "settlement":
		switch fraud {
		case "", "accept", "challenge":
			return OutcomePaid
		case "deny":
			return OutcomeFraud
		default:
			return OutcomeUnknown
		}
	case "pending":
		return OutcomePending
	case "deny", "failure":
		return OutcomeDenied
	case "cancel":
		return OutcomeCancelled
	case "expire":
		return OutcomeExpired
	default:
		return OutcomeUnknown
	}
}

// AmountCents parses gross_amount ("24980.00") into whole rupiah.
func (s Status) AmountCents() (int64, error) {
	raw := strings.TrimSpace(s.GrossAmount)
	if raw == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: gross_amount %q", ErrInvalidResponse, raw)
	}
	return amount.Round(0).IntPart(), nil
}

func decodeStatus(raw []byte) (*Status, error) {
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if status.StatusCode == "404" {
		return nil, ErrOrderNotFound
	}
	if strings.TrimSpace(status.TransactionStatus) == "" {
		return nil, fmt.Errorf("%w: status_code=%s message=%s", ErrInvalidResponse, status.StatusCode, status.StatusMessage)
	}
	status.Raw = raw
	return &status, nil
}

type LinkRequest struct {
	OrderID          string
	GrossAmountCents int64
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
}

type PaymentLink struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// OrderID builds the gateway order id for a transaction.
func OrderID(transactionID string, unix int64) string {
	return fmt.Sprintf("POS-%s-%d", transactionID, unix)
}

// NextOrderID builds a gateway order id for transactionID that differs from
// previous, which the gateway will not accept twice.
func NextOrderID(transactionID string, previous string, now time.Time) string {
	unix := now.Unix()
	if id, stamp, ok := splitOrderID(previous); ok && id == transactionID && stamp >= unix {
		unix = stamp + 1
	}
	return OrderID(transactionID, unix)
}

// TransactionIDFromOrder extracts the transaction id from an id built by
// OrderID. The second result is false for ids that do not follow the format.
func TransactionIDFromOrder(orderID string) (string, bool) {
	id, _, ok := splitOrderID(orderID)
	return id, ok
}

func splitOrderID(orderID string) (string, int64, bool) {
	rest, ok := strings.CutPrefix(orderID, "POS-")
	if !ok {
		return "", 0, false
	}
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 || idx == len(rest)-1 {
		return "", 0, false
	}
	for _, r := range rest[idx+1:] {
		if r < '0' || r > '9' {
			return "", 0, false
		}
	}
	stamp, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:idx], stamp, true
}
