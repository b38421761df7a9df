package service

import (
	"context"
	"fmt"
	"strings"

	"warungpos/internal/checkout"
	"warungpos/internal/domain"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Item{}, invalid("sku, name and category are required")
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.InitialStock < 0 || req.MinStock < 0 {
		return domain.Item{}, invalid("price must be positive and cost/stock must not be negative")
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:         xid.New("itm"),
		SKU:        req.SKU,
		Name:       req.Name,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Stock:      req.InitialStock,
		MinStock:   req.MinStock,
		Active:     true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.invalidateReports(ctx)
	s.logAudit(ctx, s.defaultStoreID, "item_create", "item", created.ID, fmt.Sprintf("sku=%s,price=%d", created.SKU, created.PriceCents))
	return *created, nil
}

func (s *Service) AdjustStock(ctx context.Context, itemID string, req domain.StockAdjustmentRequest) (domain.Item, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	itemID = strings.TrimSpace(itemID)
	req.Note = strings.TrimSpace(req.Note)
	if itemID == "" || req.Delta == 0 {
		return domain.Item{}, invalid("item id and a non-zero delta are required")
	}
	if req.Note == "" {
		return domain.Item{}, invalid("note is required for stock adjustments")
	}

	updated, err := s.repo.AdjustStock(ctx, itemID, req.Delta, req.Note)
	if err != nil {
		return domain.Item{}, err
	}
	s.invalidateReports(ctx)
	s.logAudit(ctx, s.defaultStoreID, "stock_adjust", "item", updated.ID, fmt.Sprintf("delta=%d,stock=%d,note=%s", req.Delta, updated.Stock, req.Note))
	return *updated, nil
}

func (s *Service) ListStockMovements(ctx context.Context, itemID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, strings.TrimSpace(itemID), limit)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		return domain.Customer{}, invalid("name is required")
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		return domain.Customer{}, invalid("email %q is malformed", req.Email)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) HoldCart(ctx context.Context, req domain.HoldCartRequest) (domain.HeldCart, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.Note = strings.TrimSpace(req.Note)
	if req.TerminalID == "" {
		return domain.HeldCart{}, invalid("terminal_id is required")
	}
	if err := checkout.ValidateModifiers(req.Modifiers); err != nil {
		return domain.HeldCart{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Payments) > store.MaxPaymentAttempts {
		return domain.HeldCart{}, ErrTooManyPayments
	}
	// Prices are not frozen on hold; lines are re-priced on resume.
	if _, _, err := s.buildLines(ctx, req.CartItems); err != nil {
		return domain.HeldCart{}, err
	}

	actor, _ := ActorFromContext(ctx)
	saved, err := s.repo.CreateHeldCart(ctx, domain.HeldCart{
		ID:              xid.New("hold"),
		StoreID:         req.StoreID,
		TerminalID:      req.TerminalID,
		CashierUsername: actor.Username,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Note:            req.Note,
		CartItems:       req.CartItems,
		Modifiers:       req.Modifiers,
		Payments:        req.Payments,
		HeldAt:          s.now(),
	})
	if err != nil {
		return domain.HeldCart{}, err
	}
	s.logAudit(ctx, req.StoreID, "cart_hold", "held_cart", saved.ID, fmt.Sprintf("items=%d", len(saved.CartItems)))
	return *saved, nil
}

func (s *Service) ListHeldCarts(ctx context.Context, storeID string, terminalID string) ([]domain.HeldCart, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, invalid("terminal_id is required")
	}
	return s.repo.ListHeldCarts(ctx, storeID, terminalID, 200)
}

// ResumeHeldCart removes the held cart and hands it back to the terminal.
func (s *Service) ResumeHeldCart(ctx context.Context, holdID string) (domain.HeldCart, error) {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return domain.HeldCart{}, invalid("hold id is required")
	}

	held, err := s.repo.PopHeldCart(ctx, holdID)
	if err != nil {
		return domain.HeldCart{}, err
	}
	s.logAudit(ctx, held.StoreID, "cart_resume", "held_cart", held.ID, fmt.Sprintf("items=%d", len(held.CartItems)))
	return *held, nil
}

func (s *Service) DiscardHeldCart(ctx context.Context, holdID string) error {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return invalid("hold id is required")
	}
	if err := s.repo.DeleteHeldCart(ctx, holdID); err != nil {
		return err
	}
	s.logAudit(ctx, "", "cart_discard", "held_cart", holdID, "discarded")
	return nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, invalid("name is required")
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrder{}, err
	}

	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if req.SupplierID == "" || len(req.Items) == 0 {
		return domain.PurchaseOrder{}, invalid("supplier_id and items are required")
	}

	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		item.ItemID = strings.TrimSpace(item.ItemID)
		if item.ItemID == "" || item.Qty < 1 || item.CostCents < 1 {
			return domain.PurchaseOrder{}, invalid("each line needs item_id, qty >= 1 and cost_cents >= 1")
		}
		items = append(items, item)
	}

	saved, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         xid.New("po"),
		StoreID:    req.StoreID,
		SupplierID: req.SupplierID,
		Status:     domain.PurchaseOrderDraft,
		CreatedAt:  s.now(),
		Items:      items,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, req.StoreID, "purchase_order_create", "purchase_order", saved.ID, fmt.Sprintf("items=%d", len(saved.Items)))
	return *saved, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string) ([]domain.PurchaseOrder, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.PurchaseOrderDraft, domain.PurchaseOrderReceived:
	default:
		return nil, invalid("unknown purchase order status %q", status)
	}
	return s.repo.ListPurchaseOrders(ctx, s.defaultStoreID, status, 200)
}

// ReceivePurchaseOrder books the goods into stock. A second receive of the
// same order is rejected by the store.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrder, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	purchaseOrderID = strings.TrimSpace(purchaseOrderID)
	if purchaseOrderID == "" {
		return domain.PurchaseOrder{}, invalid("purchase order id is required")
	}

	received, err := s.repo.ReceivePurchaseOrder(ctx, purchaseOrderID, actor.Username, s.now())
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.invalidateReports(ctx)
	s.logAudit(ctx, received.StoreID, "purchase_order_receive", "purchase_order", received.ID, fmt.Sprintf("received_by=%s,items=%d", received.ReceivedBy, len(received.Items)))
	return *received, nil
}
