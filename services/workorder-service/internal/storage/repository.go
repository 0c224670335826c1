package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/johnhamlin/event-driven-demo/libs/db"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/model"
)

var ErrNotFound = errors.New("work order not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, wo *model.WorkOrder) error {
	return tx.QueryRow(ctx, `
		INSERT INTO work_orders (id, org_id, title, description, status, priority, assigned_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, wo.ID, wo.OrgID, wo.Title, wo.Description, wo.Status, wo.Priority, wo.AssignedTo).
		Scan(&wo.CreatedAt, &wo.UpdatedAt)
}

// GetForUpdate loads a work order and locks its row for the rest of the
// transaction, so the change record written next reflects exactly this
// transition.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.WorkOrder, error) {
	var wo model.WorkOrder
	err := tx.QueryRow(ctx, `
		SELECT id, org_id, title, description, status, priority, assigned_to, created_at, updated_at
		FROM work_orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&wo.ID, &wo.OrgID, &wo.Title, &wo.Description, &wo.Status, &wo.Priority, &wo.AssignedTo, &wo.CreatedAt, &wo.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkOrder{}, ErrNotFound
	}
	if err != nil {
		return model.WorkOrder{}, err
	}
	return wo, nil
}

func (r *Repository) UpdateFields(ctx context.Context, tx pgx.Tx, wo *model.WorkOrder) error {
	return tx.QueryRow(ctx, `
		UPDATE work_orders
		SET title = $2,
		    description = $3,
		    priority = $4,
		    assigned_to = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, wo.ID, wo.Title, wo.Description, wo.Priority, wo.AssignedTo).Scan(&wo.UpdatedAt)
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, wo *model.WorkOrder) error {
	return tx.QueryRow(ctx, `
		UPDATE work_orders
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, wo.ID, wo.Status).Scan(&wo.UpdatedAt)
}
