package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/workflow-market/internal/model"
)

// Ledger описывает операции над заказами и доступами в рамках одной транзакции.
type Ledger interface {
	// InsertOrder создаёт заказ и возвращает его идентификатор. Для статуса PAID сразу
	// проставляется время оплаты.
	InsertOrder(ctx context.Context, o *model.Order) (int64, error)
	InsertOrderItems(ctx context.Context, orderID int64, items []model.OrderItem) error
	// MarkOrderPaid переводит заказ покупателя в PAID. Повторный вызов не меняет время
	// оплаты и ранее сохранённую ссылку на платёж.
	MarkOrderPaid(ctx context.Context, orderID, buyerID int64, paymentIntentID string) (*model.Order, error)
	FindEntitlement(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, error)
	// InsertEntitlement создаёт доступ, если у покупателя его ещё нет. Второй результат
	// false означает, что доступ уже существовал и запись не создавалась.
	InsertEntitlement(ctx context.Context, buyerID, itemID, orderID int64) (*model.Entitlement, bool, error)
	// RefreshPurchaseCount пересчитывает счётчик покупок воркфлоу по таблице доступов.
	RefreshPurchaseCount(ctx context.Context, itemID int64) error
	// Savepoint выполняет fn во вложенной транзакции: ошибка fn откатывает только её изменения.
	Savepoint(ctx context.Context, fn func(Ledger) error) error
}

type pgLedger struct {
	tx pgx.Tx
}

func (l *pgLedger) InsertOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx,
		`INSERT INTO orders (buyer_id, total_amount, currency, status, paid_at)
		 VALUES ($1, $2, $3, $4, CASE WHEN $4 = 'PAID' THEN now() END)
		 RETURNING id`,
		o.BuyerID, o.TotalAmount, o.Currency, string(o.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

func (l *pgLedger) InsertOrderItems(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for _, it := range items {
		_, err := l.tx.Exec(ctx,
			`INSERT INTO order_items (order_id, item_id, seller_id, unit_price, platform_fee_amount, seller_earnings)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, it.ItemID, it.SellerID, it.UnitPrice, it.PlatformFeeAmount, it.SellerEarnings,
		)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", it.ItemID, err)
		}
	}
	return nil
}

func (l *pgLedger) MarkOrderPaid(ctx context.Context, orderID, buyerID int64, paymentIntentID string) (*model.Order, error) {
	var (
		o         model.Order
		status    string
		sessionID *string
		intentID  *string
	)
	err := l.tx.QueryRow(ctx,
		`UPDATE orders
		 SET status = 'PAID',
		     paid_at = COALESCE(paid_at, now()),
		     payment_intent_id = COALESCE(payment_intent_id, NULLIF($3, ''))
		 WHERE id = $1 AND buyer_id = $2
		 RETURNING id, buyer_id, total_amount, currency, status, created_at, paid_at, payment_session_id, payment_intent_id`,
		orderID, buyerID, paymentIntentID,
	).Scan(&o.ID, &o.BuyerID, &o.TotalAmount, &o.Currency, &status, &o.CreatedAt, &o.PaidAt, &sessionID, &intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	o.Status = model.OrderStatus(status)
	o.PaymentSessionID = deref(sessionID)
	o.PaymentIntentID = deref(intentID)
	return &o, nil
}

func (l *pgLedger) FindEntitlement(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, error) {
	return findEntitlement(ctx, l.tx, buyerID, itemID)
}

func (l *pgLedger) InsertEntitlement(ctx context.Context, buyerID, itemID, orderID int64) (*model.Entitlement, bool, error) {
	e := model.Entitlement{
		BuyerID: buyerID,
		ItemID:  itemID,
		OrderID: orderID,
	}
	err := l.tx.QueryRow(ctx,
		`INSERT INTO entitlements (buyer_id, item_id, order_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (buyer_id, item_id) DO NOTHING
		 RETURNING id, purchased_at, download_count`,
		buyerID, itemID, orderID,
	).Scan(&e.ID, &e.PurchasedAt, &e.DownloadCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		if isUniqueViolation(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("insert entitlement: %w", err)
	}
	return &e, true, nil
}

func (l *pgLedger) RefreshPurchaseCount(ctx context.Context, itemID int64) error {
	// Подсчёт выполняется отдельным запросом после блокировки строки: в READ COMMITTED
	// он получает снимок, в котором видны доступы, закоммиченные предыдущим владельцем блокировки.
	// NO KEY UPDATE не конфликтует с KEY SHARE, которую берут проверки внешних ключей.
	if _, err := l.tx.Exec(ctx, `SELECT 1 FROM items WHERE id = $1 FOR NO KEY UPDATE`, itemID); err != nil {
		return fmt.Errorf("lock item: %w", err)
	}

	_, err := l.tx.Exec(ctx,
		`UPDATE items
		 SET purchase_count = (SELECT COUNT(*) FROM entitlements WHERE item_id = $1)
		 WHERE id = $1`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("refresh purchase count: %w", err)
	}
	return nil
}

func (l *pgLedger) Savepoint(ctx context.Context, fn func(Ledger) error) error {
	sp, err := l.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	if err := fn(&pgLedger{tx: sp}); err != nil {
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findEntitlement(ctx context.Context, q queryRower, buyerID, itemID int64) (*model.Entitlement, error) {
	var e model.Entitlement
	err := q.QueryRow(ctx,
		`SELECT id, buyer_id, item_id, order_id, purchased_at, last_accessed_at, download_count
		 FROM entitlements
		 WHERE buyer_id = $1 AND item_id = $2`,
		buyerID, itemID,
	).Scan(&e.ID, &e.BuyerID, &e.ItemID, &e.OrderID, &e.PurchasedAt, &e.LastAccessedAt, &e.DownloadCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("find entitlement: %w", err)
	}
	return &e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
