package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/workflow-market/internal/model"
)

// SetOrderPaymentSession сохраняет ссылку на платёжную сессию провайдера.
func (r *PostgresRepository) SetOrderPaymentSession(ctx context.Context, orderID int64, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_session_id = $2 WHERE id = $1`,
		orderID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set payment session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrder возвращает заказ покупателя вместе с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, buyerID, orderID int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND buyer_id = $2`,
		orderID, buyerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.getOrderItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

// GetOrdersByBuyer возвращает заказы покупателя, новые первыми.
func (r *PostgresRepository) GetOrdersByBuyer(ctx context.Context, buyerID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []model.Order
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	items, err := r.getOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

const orderColumns = `id, buyer_id, total_amount, currency, status, created_at, paid_at, payment_session_id, payment_intent_id`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o         model.Order
		status    string
		sessionID *string
		intentID  *string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.TotalAmount, &o.Currency, &status, &o.CreatedAt, &o.PaidAt, &sessionID, &intentID)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentSessionID = deref(sessionID)
	o.PaymentIntentID = deref(intentID)
	return &o, nil
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	res := make(map[int64][]model.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return res, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT order_id, item_id, seller_id, unit_price, platform_fee_amount, seller_earnings
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ItemID, &it.SellerID, &it.UnitPrice, &it.PlatformFeeAmount, &it.SellerEarnings); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		res[it.OrderID] = append(res[it.OrderID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
