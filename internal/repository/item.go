package repository

import (
	"context"
	"fmt"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/storage/postgres"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const _itemsTable = "order_items"

var itemColumns = []string{"order_id", "position", "id", "item_id", "quantity", "unit_price"}

// insertItems bulk-loads the order lines inside the caller's transaction.
func insertItems(
	ctx context.Context,
	tx postgres.QueryExecuter,
	orderID uuid.UUID,
	items []entity.Item,
) error {
	const op = "repository.item.insertItems"

	if len(items) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(items))
	for i, item := range items {
		rows = append(rows, []any{orderID, i, item.ID, item.ItemID, item.Quantity, item.UnitPrice})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{_itemsTable}, itemColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("%s: copy from: %w", op, err)
	}
	if n != int64(len(items)) {
		return fmt.Errorf("%s: copied %d of %d items", op, n, len(items))
	}
	return nil
}

// loadItems returns the lines of every order in ids, keyed by order id and
// kept in their original order.
func loadItems(
	ctx context.Context,
	db *postgres.Postgres,
	ids []uuid.UUID,
) (map[uuid.UUID][]entity.Item, error) {
	const op = "repository.item.loadItems"

	out := make(map[uuid.UUID][]entity.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sql, args, err := db.Builder.
		Select("order_id", "id", "item_id", "quantity", "unit_price").
		From(_itemsTable).
		Where(squirrel.Eq{"order_id": ids}).
		OrderBy("order_id", "position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			item    entity.Item
		)
		if err := rows.Scan(&orderID, &item.ID, &item.ItemID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("%s: row scan: %w", op, err)
		}
		out[orderID] = append(out[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}

	return out, nil
}
