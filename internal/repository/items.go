package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/workflow-market/internal/model"
)

const itemColumns = `id, seller_id, title, description, price, currency, delivery_type, status,
	artifact_path, artifact_size, purchase_count, created_at, updated_at`

func scanItem(row pgx.Row, extra ...any) (*model.Item, error) {
	var (
		it           model.Item
		deliveryType *string
		status       string
		artifactPath *string
		artifactSize *int64
	)
	dest := []any{&it.ID, &it.SellerID, &it.Title, &it.Description, &it.Price, &it.Currency,
		&deliveryType, &status, &artifactPath, &artifactSize, &it.PurchaseCount, &it.CreatedAt, &it.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	it.DeliveryType = model.DeliveryType(deref(deliveryType))
	it.Status = model.ItemStatus(status)
	it.ArtifactPath = deref(artifactPath)
	if artifactSize != nil {
		it.ArtifactSize = *artifactSize
	}
	return &it, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateItem создаёт черновик воркфлоу продавца.
func (r *PostgresRepository) CreateItem(ctx context.Context, it *model.Item) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO items (seller_id, title, description, price, currency, delivery_type, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'DRAFT')
		 RETURNING id`,
		it.SellerID, it.Title, it.Description, it.Price, it.Currency, nullableString(string(it.DeliveryType)),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create item: %w", err)
	}
	return id, nil
}

// UpdateItem применяет патч к воркфлоу продавца.
func (r *PostgresRepository) UpdateItem(ctx context.Context, sellerID, itemID int64, patch model.ItemPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Currency != nil {
		add("currency", *patch.Currency)
	}
	if patch.DeliveryType != nil {
		add("delivery_type", nullableString(string(*patch.DeliveryType)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, itemID, sellerID)
	query := fmt.Sprintf(`UPDATE items SET %s, updated_at = now() WHERE id = $%d AND seller_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// SetItemArtifact сохраняет расположение артефакта воркфлоу продавца.
func (r *PostgresRepository) SetItemArtifact(ctx context.Context, sellerID, itemID int64, location string, size int64) error {
	var sizeArg *int64
	if size > 0 {
		sizeArg = &size
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE items SET artifact_path = $3, artifact_size = $4, updated_at = now()
		 WHERE id = $1 AND seller_id = $2`,
		itemID, sellerID, location, sizeArg,
	)
	if err != nil {
		return fmt.Errorf("set item artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// GetSellerItem возвращает воркфлоу, если он принадлежит продавцу.
func (r *PostgresRepository) GetSellerItem(ctx context.Context, sellerID, itemID int64) (*model.Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 AND seller_id = $2`,
		itemID, sellerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get seller item: %w", err)
	}
	return it, nil
}

// ListSellerItems возвращает воркфлоу продавца, последние изменённые первыми, вместе с
// суммой скачиваний по всем доступам. Пустой status не фильтрует по статусу.
func (r *PostgresRepository) ListSellerItems(ctx context.Context, sellerID int64, status model.ItemStatus) ([]model.Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+`,
		        COALESCE((SELECT SUM(e.download_count) FROM entitlements e WHERE e.item_id = items.id), 0)
		 FROM items
		 WHERE seller_id = $1 AND ($2::text = '' OR status = $2::text)
		 ORDER BY updated_at DESC`,
		sellerID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select seller items: %w", err)
	}
	defer rows.Close()

	var res []model.Item
	for rows.Next() {
		var downloads int64
		it, err := scanItem(rows, &downloads)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.DownloadTotal = downloads
		res = append(res, *it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// TransitionToPublished публикует воркфлоу продавца, если check не вернул замечаний.
// Строка блокируется на время проверки, поэтому правила оцениваются по актуальному состоянию.
func (r *PostgresRepository) TransitionToPublished(ctx context.Context, sellerID, itemID int64, check func(*model.Item) []string) ([]string, error) {
	var issues []string

	err := withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		it, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM items WHERE id = $1 AND seller_id = $2 FOR UPDATE`,
			itemID, sellerID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrItemNotFound
			}
			return fmt.Errorf("lock item: %w", err)
		}

		issues = check(it)
		if len(issues) > 0 {
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE items SET status = 'PUBLISHED', updated_at = now() WHERE id = $1`,
			itemID,
		)
		if err != nil {
			return fmt.Errorf("publish item: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return commitError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return issues, nil
}

// TransitionToDraft снимает воркфлоу продавца с публикации. Существующие доступы сохраняются.
func (r *PostgresRepository) TransitionToDraft(ctx context.Context, sellerID, itemID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE items SET status = 'DRAFT', updated_at = now() WHERE id = $1 AND seller_id = $2`,
		itemID, sellerID,
	)
	if err != nil {
		return fmt.Errorf("unpublish item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// GetPurchasableItem возвращает опубликованный воркфлоу для покупки.
func (r *PostgresRepository) GetPurchasableItem(ctx context.Context, itemID int64) (*model.PurchasableItem, error) {
	var (
		it     model.PurchasableItem
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, price, currency, seller_id, status
		 FROM items
		 WHERE id = $1 AND status = 'PUBLISHED'`,
		itemID,
	).Scan(&it.ID, &it.Title, &it.Price, &it.Currency, &it.SellerID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get purchasable item: %w", err)
	}
	it.Status = model.ItemStatus(status)
	return &it, nil
}

// ResolvePurchasableItems возвращает опубликованные воркфлоу из списка в порядке запроса.
// Неизвестные и неопубликованные идентификаторы пропускаются.
func (r *PostgresRepository) ResolvePurchasableItems(ctx context.Context, itemIDs []int64) ([]model.PurchasableItem, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, price, currency, seller_id, status
		 FROM items
		 WHERE id = ANY($1) AND status = 'PUBLISHED'`,
		itemIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select purchasable items: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]model.PurchasableItem, len(itemIDs))
	for rows.Next() {
		var (
			it     model.PurchasableItem
			status string
		)
		if err := rows.Scan(&it.ID, &it.Title, &it.Price, &it.Currency, &it.SellerID, &status); err != nil {
			return nil, fmt.Errorf("scan purchasable item: %w", err)
		}
		it.Status = model.ItemStatus(status)
		byID[it.ID] = it
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	res := make([]model.PurchasableItem, 0, len(byID))
	for _, id := range itemIDs {
		if it, ok := byID[id]; ok {
			res = append(res, it)
			delete(byID, id)
		}
	}
	return res, nil
}
