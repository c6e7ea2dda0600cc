package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/payment"
	"github.com/mmeshcher/workflow-market/internal/repository"
)

var errAlreadyEntitled = errors.New("already entitled")

// HandlePaymentEvent проверяет подпись уведомления провайдера и, если это уведомление об
// успешной оплате, переводит заказ в PAID и выдаёт доступы. Повторная доставка того же
// уведомления не создаёт новых доступов. Ошибка с ErrTransient означает, что уведомление
// нужно доставить повторно.
func (s *Service) HandlePaymentEvent(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return ErrProviderNotConfigured
	}

	ev, err := s.provider.VerifyAndParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrWebhookSecretMissing) {
			return fmt.Errorf("%w: %w", ErrProviderNotConfigured, err)
		}
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}

	if ev.Type != payment.EventCheckoutCompleted {
		s.logger.Debug("payment event ignored", zap.String("eventID", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	meta, err := payment.ParseMetadata(ev.Metadata)
	if err != nil {
		s.logger.Error("payment event with malformed metadata",
			zap.Error(err), zap.String("eventID", ev.ID), zap.String("sessionID", ev.SessionID))
		return nil
	}

	return s.fulfillOrder(ctx, meta, ev.PaymentIntentID)
}

func (s *Service) fulfillOrder(ctx context.Context, meta payment.Metadata, paymentIntentID string) error {
	var granted, skipped, failed int

	// Единый порядок блокировок строк воркфлоу для параллельных заказов.
	itemIDs := slices.Sorted(slices.Values(meta.ItemIDs))

	err := s.repo.InTx(ctx, func(l repository.Ledger) error {
		granted, skipped, failed = 0, 0, 0

		if _, err := l.MarkOrderPaid(ctx, meta.OrderID, meta.BuyerID, paymentIntentID); err != nil {
			return err
		}

		for _, itemID := range itemIDs {
			created, err := grantEntitlement(ctx, l, meta.BuyerID, itemID, meta.OrderID)
			switch {
			case err != nil:
				failed++
				s.logger.Error("grant entitlement error", zap.Error(err),
					zap.Int64("orderID", meta.OrderID), zap.Int64("itemID", itemID))
			case created:
				granted++
			default:
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("payment event for unknown order",
				zap.Int64("orderID", meta.OrderID), zap.Int64("buyerID", meta.BuyerID))
			return nil
		}
		return transient("fulfill order", err)
	}

	s.logger.Info("order fulfilled",
		zap.Int64("orderID", meta.OrderID),
		zap.Int64("buyerID", meta.BuyerID),
		zap.Int("granted", granted),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return nil
}

// grantEntitlement выдаёт доступ к одному воркфлоу во вложенной транзакции, чтобы ошибка
// по одной позиции не прерывала остальные. created=false, если доступ уже был.
func grantEntitlement(ctx context.Context, l repository.Ledger, buyerID, itemID, orderID int64) (bool, error) {
	var created bool

	err := l.Savepoint(ctx, func(sp repository.Ledger) error {
		_, err := sp.FindEntitlement(ctx, buyerID, itemID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrEntitlementNotFound) {
			return err
		}

		_, inserted, err := sp.InsertEntitlement(ctx, buyerID, itemID, orderID)
		if err != nil || !inserted {
			return err
		}

		created = true
		return sp.RefreshPurchaseCount(ctx, itemID)
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

// DirectPurchase выдаёт доступ без внешней оплаты: создаёт оплаченный заказ и доступ в
// одной транзакции. Если доступ уже есть, возвращает его с created=false и ничего не пишет.
func (s *Service) DirectPurchase(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, bool, error) {
	if s.provider != nil {
		return nil, false, fmt.Errorf("%w: direct purchase is disabled while a payment provider is configured", ErrConflict)
	}

	existing, err := s.repo.FindEntitlement(ctx, buyerID, itemID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrEntitlementNotFound) {
		return nil, false, transient("find entitlement", err)
	}

	it, err := s.repo.GetPurchasableItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, false, fmt.Errorf("%w: item not available for purchase", ErrNotFound)
		}
		return nil, false, transient("get purchasable item", err)
	}

	order := newOrder(buyerID, []model.PurchasableItem{*it}, model.OrderStatusPaid)

	var ent *model.Entitlement
	err = s.repo.InTx(ctx, func(l repository.Ledger) error {
		orderID, err := l.InsertOrder(ctx, &order)
		if err != nil {
			return err
		}
		if err := l.InsertOrderItems(ctx, orderID, order.Items); err != nil {
			return err
		}

		e, inserted, err := l.InsertEntitlement(ctx, buyerID, itemID, orderID)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyEntitled
		}
		ent = e
		return l.RefreshPurchaseCount(ctx, itemID)
	})
	if err != nil {
		if errors.Is(err, errAlreadyEntitled) {
			existing, err := s.repo.FindEntitlement(ctx, buyerID, itemID)
			if err != nil {
				return nil, false, transient("find entitlement", err)
			}
			return existing, false, nil
		}
		return nil, false, transient("direct purchase", err)
	}

	s.logger.Info("direct purchase completed",
		zap.Int64("buyerID", buyerID), zap.Int64("itemID", itemID), zap.Int64("entitlementID", ent.ID))

	return ent, true, nil
}
