package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/payment"
	"github.com/mmeshcher/workflow-market/internal/repository"
)

// CartLine — строка корзины.
type CartLine struct {
	ItemID int64
	// Quantity 0 трактуется как 1. Другие значения, кроме 1, отклоняются.
	Quantity int64
}

// Cart описывает запрос на оформление: либо один воркфлоу, либо список строк.
type Cart struct {
	ItemID int64
	Lines  []CartLine
}

// CheckoutSession — созданная для заказа платёжная сессия.
type CheckoutSession struct {
	OrderID   int64
	SessionID string
	URL       string
}

// InitiateCheckout создаёт заказ в статусе PENDING и платёжную сессию для него.
// Если провайдер отказал после сохранения заказа, заказ остаётся PENDING.
func (s *Service) InitiateCheckout(ctx context.Context, buyerID int64, cart Cart) (*CheckoutSession, error) {
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}

	items, err := s.resolveCart(ctx, cart)
	if err != nil {
		return nil, err
	}

	order := newOrder(buyerID, items, model.OrderStatusPending)

	var orderID int64
	err = s.repo.InTx(ctx, func(l repository.Ledger) error {
		id, err := l.InsertOrder(ctx, &order)
		if err != nil {
			return err
		}
		orderID = id
		return l.InsertOrderItems(ctx, id, order.Items)
	})
	if err != nil {
		return nil, transient("create order", err)
	}

	meta := payment.Metadata{OrderID: orderID, BuyerID: buyerID}
	lines := make([]payment.LineItem, 0, len(items))
	for _, it := range items {
		meta.ItemIDs = append(meta.ItemIDs, it.ID)
		lines = append(lines, payment.LineItem{
			Name:       it.Title,
			UnitAmount: it.Price,
			Currency:   it.Currency,
			Quantity:   1,
		})
	}

	session, err := s.provider.CreateSession(ctx, payment.SessionRequest{
		LineItems:  lines,
		SuccessURL: s.origin + "/library?success=1",
		CancelURL:  s.origin + "/workflows/" + strconv.FormatInt(items[0].ID, 10) + "?canceled=1",
		Metadata:   meta,
	})
	if err != nil {
		s.logger.Error("create payment session error", zap.Error(err), zap.Int64("orderID", orderID))
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	// Выдача доступа опирается только на метаданные сессии, сбой этой записи не прерывает оформление.
	if err := s.repo.SetOrderPaymentSession(ctx, orderID, session.ID); err != nil {
		s.logger.Error("save payment session error", zap.Error(err),
			zap.Int64("orderID", orderID), zap.String("sessionID", session.ID))
	}

	s.logger.Info("checkout session created",
		zap.Int64("orderID", orderID), zap.Int64("buyerID", buyerID), zap.Int("items", len(items)))

	return &CheckoutSession{OrderID: orderID, SessionID: session.ID, URL: session.URL}, nil
}

func (s *Service) resolveCart(ctx context.Context, cart Cart) ([]model.PurchasableItem, error) {
	switch {
	case cart.ItemID != 0 && len(cart.Lines) > 0:
		return nil, invalid("specify either a single workflow or a list of items")
	case cart.ItemID != 0:
		if cart.ItemID < 0 {
			return nil, invalid("workflow id must be positive")
		}
		it, err := s.repo.GetPurchasableItem(ctx, cart.ItemID)
		if err != nil {
			if errors.Is(err, repository.ErrItemNotFound) {
				return nil, fmt.Errorf("%w: item not available for purchase", ErrNotFound)
			}
			return nil, transient("get purchasable item", err)
		}
		return []model.PurchasableItem{*it}, nil
	case len(cart.Lines) > 0:
	default:
		return nil, invalid("workflow id or items are required")
	}

	var (
		issues []string
		ids    []int64
		seen   = make(map[int64]struct{}, len(cart.Lines))
	)
	for _, line := range cart.Lines {
		if line.ItemID <= 0 {
			issues = append(issues, "workflow id must be positive")
			continue
		}
		if line.Quantity != 0 && line.Quantity != 1 {
			issues = append(issues, fmt.Sprintf("quantity for workflow %d must be 1", line.ItemID))
			continue
		}
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	if len(issues) > 0 {
		return nil, invalid(issues...)
	}

	items, err := s.repo.ResolvePurchasableItems(ctx, ids)
	if err != nil {
		return nil, transient("resolve cart", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no purchasable items in cart", ErrConflict)
	}
	return items, nil
}

// platformFee возвращает комиссию площадки с позиции заказа.
func platformFee(model.PurchasableItem) decimal.Decimal {
	return decimal.Zero
}

// newOrder строит заказ по позициям. Валюта заказа берётся у первой позиции.
func newOrder(buyerID int64, items []model.PurchasableItem, status model.OrderStatus) model.Order {
	o := model.Order{
		BuyerID:     buyerID,
		TotalAmount: decimal.Zero,
		Currency:    items[0].Currency,
		Status:      status,
		Items:       make([]model.OrderItem, 0, len(items)),
	}
	for _, it := range items {
		fee := platformFee(it)
		o.TotalAmount = o.TotalAmount.Add(it.Price)
		o.Items = append(o.Items, model.OrderItem{
			ItemID:            it.ID,
			SellerID:          it.SellerID,
			UnitPrice:         it.Price,
			PlatformFeeAmount: fee,
			SellerEarnings:    it.Price.Sub(fee),
		})
	}
	return o
}
