package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/workflow-market/internal/model"
)

// FindEntitlement возвращает доступ покупателя к воркфлоу.
func (r *PostgresRepository) FindEntitlement(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, error) {
	return findEntitlement(ctx, r.pool, buyerID, itemID)
}

// RecordAccess атомарно увеличивает счётчик скачиваний и обновляет время последнего доступа.
func (r *PostgresRepository) RecordAccess(ctx context.Context, buyerID, entitlementID int64) (*model.Entitlement, error) {
	var e model.Entitlement
	err := r.pool.QueryRow(ctx,
		`UPDATE entitlements
		 SET download_count = download_count + 1,
		     last_accessed_at = GREATEST(clock_timestamp(), COALESCE(last_accessed_at, clock_timestamp()))
		 WHERE id = $1 AND buyer_id = $2
		 RETURNING id, buyer_id, item_id, order_id, purchased_at, last_accessed_at, download_count`,
		entitlementID, buyerID,
	).Scan(&e.ID, &e.BuyerID, &e.ItemID, &e.OrderID, &e.PurchasedAt, &e.LastAccessedAt, &e.DownloadCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("record access: %w", err)
	}
	return &e, nil
}

// GetArtifactRef возвращает расположение артефакта по доступу покупателя.
func (r *PostgresRepository) GetArtifactRef(ctx context.Context, buyerID, entitlementID int64) (*model.ArtifactRef, error) {
	var (
		ref          model.ArtifactRef
		deliveryType *string
		location     *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT e.id, i.title, i.delivery_type, i.artifact_path
		 FROM entitlements e
		 JOIN items i ON i.id = e.item_id
		 WHERE e.id = $1 AND e.buyer_id = $2`,
		entitlementID, buyerID,
	).Scan(&ref.EntitlementID, &ref.Title, &deliveryType, &location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("get artifact ref: %w", err)
	}
	ref.DeliveryType = model.DeliveryType(deref(deliveryType))
	ref.Location = deref(location)
	return &ref, nil
}

// ListLibrary возвращает купленные воркфлоу покупателя, последние покупки первыми.
func (r *PostgresRepository) ListLibrary(ctx context.Context, buyerID int64) ([]model.LibraryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.buyer_id, e.item_id, e.order_id, e.purchased_at, e.last_accessed_at, e.download_count,
		        i.title, i.price, i.currency
		 FROM entitlements e
		 JOIN items i ON i.id = e.item_id
		 WHERE e.buyer_id = $1
		 ORDER BY e.purchased_at DESC, e.id DESC`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select library: %w", err)
	}
	defer rows.Close()

	var res []model.LibraryEntry
	for rows.Next() {
		var le model.LibraryEntry
		e := &le.Entitlement
		if err := rows.Scan(&e.ID, &e.BuyerID, &e.ItemID, &e.OrderID, &e.PurchasedAt, &e.LastAccessedAt, &e.DownloadCount,
			&le.Title, &le.Price, &le.Currency); err != nil {
			return nil, fmt.Errorf("scan library entry: %w", err)
		}
		res = append(res, le)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
