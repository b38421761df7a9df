package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"warungpos/internal/cache"
	"warungpos/internal/domain"
	"warungpos/internal/gateway"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTooManyPayments     = errors.New("too many payment attempts")
	ErrTerminalTransaction = errors.New("transaction already final")
	ErrForbidden           = errors.New("admin role required")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayPending      = errors.New("gateway payment still pending")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// PaymentLinker issues hosted payment pages for gateway payments.
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, req gateway.LinkRequest) (*gateway.PaymentLink, error)
}

type Options struct {
	DefaultStoreID string
	Gateway        PaymentLinker
	ReportCache    cache.ReportCache
	ReportCacheTTL time.Duration
	ReportLocation *time.Location
}

type Service struct {
	repo           store.Repository
	gateway        PaymentLinker
	reports        cache.ReportCache
	reportTTL      time.Duration
	location       *time.Location
	defaultStoreID string
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.ReportCache == nil {
		opts.ReportCache = cache.NoopReportCache{}
	}
	if opts.ReportLocation == nil {
		opts.ReportLocation = time.UTC
	}

	return &Service{
		repo:           repo,
		gateway:        opts.Gateway,
		reports:        opts.ReportCache,
		reportTTL:      opts.ReportCacheTTL,
		location:       opts.ReportLocation,
		defaultStoreID: opts.DefaultStoreID,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
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
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) ListWebhookLogs(ctx context.Context, orderID string, limit int) ([]domain.WebhookLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListWebhookLogs(ctx, strings.TrimSpace(orderID), limit)
}

// parseDay reads a YYYY-MM-DD date as midnight in the report location.
func (s *Service) parseDay(raw string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), s.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidRequest, raw)
	}
	return day, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
