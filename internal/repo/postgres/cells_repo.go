package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/axone/ax-server/internal/domain/cell"
	"github.com/axone/ax-server/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CellsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCellsRepo(pool *pgxpool.Pool, prom *observability.Prom) *CellsRepo {
	return &CellsRepo{pool: pool, prom: prom}
}

func (r *CellsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Update edits a cell the caller already owns, selected by id.
func (r *CellsRepo) Update(ctx context.Context, id, userID string, req cell.UpsertRequest) (cell.Cell, error) {
	var c cell.Cell

	err := r.observe("cells.update", func() error {
		return r.pool.QueryRow(
			ctx,
			`UPDATE cells
			 SET name        = $3,
			     properties  = COALESCE($4, properties),
			     modified_at = NOW()
			 WHERE id = $1 AND user_id = $2
			 RETURNING id, user_id, name, properties, created_at, modified_at`,
			id,
			userID,
			req.Name,
			req.Properties,
		).Scan(&c.ID, &c.UserID, &c.Name, &c.Properties, &c.CreatedAt, &c.ModifiedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cell.Cell{}, cell.ErrNotFound
		}
		return cell.Cell{}, err
	}

	return c, nil
}

// UpsertByName creates or updates the cell selected by (user, name). The
// unique index on that pair makes concurrent calls converge on one row; the
// xmax trick tells a fresh insert apart from a conflict update.
func (r *CellsRepo) UpsertByName(ctx context.Context, userID string, req cell.UpsertRequest) (c cell.Cell, inserted bool, err error) {
	now := time.Now().UTC()

	err = r.observe("cells.upsert_by_name", func() error {
		return r.pool.QueryRow(
			ctx,
			`INSERT INTO cells (id, user_id, name, properties, created_at, modified_at)
			 VALUES ($1,$2,$3,$4,$5,$5)
			 ON CONFLICT (user_id, name)
			 DO UPDATE SET properties  = COALESCE(EXCLUDED.properties, cells.properties),
			               modified_at = NOW()
			 RETURNING id, user_id, name, properties, created_at, modified_at, (xmax = 0)`,
			uuid.NewString(),
			userID,
			req.Name,
			req.Properties,
			now,
		).Scan(&c.ID, &c.UserID, &c.Name, &c.Properties, &c.CreatedAt, &c.ModifiedAt, &inserted)
	})

	if err != nil {
		return cell.Cell{}, false, err
	}

	return c, inserted, nil
}

// ListUnused returns cells of the user that no neuron points at.
func (r *CellsRepo) ListUnused(ctx context.Context, userID string) (out []cell.NameID, err error) {
	var rows pgx.Rows

	err = r.observe("cells.list_unused", func() error {
		var qerr error
		rows, qerr = r.pool.Query(
			ctx,
			`SELECT c.id, c.name
			 FROM cells c
			 WHERE c.user_id = $1
			   AND NOT EXISTS (SELECT 1 FROM neurons n WHERE n.cell_id = c.id)
			 ORDER BY c.name ASC, c.id ASC`,
			userID,
		)
		return qerr
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out = make([]cell.NameID, 0)

	for rows.Next() {
		var nid cell.NameID

		if err = rows.Scan(&nid.ID, &nid.Name); err != nil {
			return nil, err
		}
		out = append(out, nid)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
