package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/storage/postgres"
	"github.com/microservices-demo/orders/pkg/storage/postgres/transaction"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	_ordersTable = "orders"

	_uniqueViolation = "23505"
)

var orderColumns = []string{"id", "customer_id", "customer", "address", "card", "shipment", "date", "total"}

type OrderRepository struct {
	db        *postgres.Postgres
	txManager transaction.Manager
}

func NewOrderRepository(db *postgres.Postgres, txManager transaction.Manager) *OrderRepository {
	return &OrderRepository{db: db, txManager: txManager}
}

// Save writes the order and its lines in one transaction and returns the
// order with the id the database assigned.
func (r *OrderRepository) Save(ctx context.Context, order *entity.CustomerOrder) (*entity.CustomerOrder, error) {
	const op = "repository.order.Save"

	docs, err := marshalDocuments(order)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sql, args, err := r.db.Builder.
		Insert(_ordersTable).
		Columns(orderColumns[1:]...).
		Values(order.CustomerID, docs[0], docs[1], docs[2], docs[3], order.Date, order.Total).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	var id uuid.UUID
	err = r.txManager.ExecuteInTransaction(ctx, "SaveOrder", func(ctx context.Context, tx postgres.QueryExecuter) error {
		if err := tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return insertItems(ctx, tx, id, order.Items)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == _uniqueViolation {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrConflictingData)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	saved := *order
	saved.ID = id
	return &saved, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.CustomerOrder, error) {
	const op = "repository.order.GetByID"

	sql, args, err := r.db.Builder.
		Select(orderColumns...).
		From(_ordersTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	order, err := scanOrder(r.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrDataNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items, err := loadItems(ctx, r.db, []uuid.UUID{order.ID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	order.Items = items[order.ID]

	return order, nil
}

// ListByCustomerID returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomerID(ctx context.Context, customerID string) ([]*entity.CustomerOrder, error) {
	const op = "repository.order.ListByCustomerID"

	sql, args, err := r.db.Builder.
		Select(orderColumns...).
		From(_ordersTable).
		Where(squirrel.Eq{"customer_id": customerID}).
		OrderBy("date DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var (
		orders []*entity.CustomerOrder
		ids    []uuid.UUID
	)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, order := range orders {
		order.Items = items[order.ID]
	}

	return orders, nil
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanOrder(row pgx.Row) (*entity.CustomerOrder, error) {
	var (
		order                             entity.CustomerOrder
		customer, address, card, shipment []byte
	)

	if err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&customer,
		&address,
		&card,
		&shipment,
		&order.Date,
		&order.Total,
	); err != nil {
		return nil, err
	}

	for _, doc := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"customer", customer, &order.Customer},
		{"address", address, &order.Address},
		{"card", card, &order.Card},
		{"shipment", shipment, &order.Shipment},
	} {
		if err := json.Unmarshal(doc.raw, doc.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.name, err)
		}
	}

	order.Date = order.Date.UTC()
	return &order, nil
}

// marshalDocuments encodes customer, address, card and shipment for the
// jsonb columns, in that order.
func marshalDocuments(order *entity.CustomerOrder) ([4][]byte, error) {
	var out [4][]byte
	for i, v := range []any{order.Customer, order.Address, order.Card, order.Shipment} {
		b, err := json.Marshal(v)
		if err != nil {
			return out, fmt.Errorf("encode document %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
