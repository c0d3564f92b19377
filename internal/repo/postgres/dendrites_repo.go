package postgres

import (
	"context"
	"time"

	"github.com/axone/ax-server/internal/domain/cell"
	"github.com/axone/ax-server/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DendritesRepo materializes name-referenced dendrites. The whole sequence
// (bucket cell, bucket neuron, one cell and one neuron per name, read-back)
// runs in a single transaction so a failure anywhere leaves nothing behind
// and concurrent identical requests cannot double-create the bucket.
type DendritesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewDendritesRepo(pool *pgxpool.Pool, prom *observability.Prom) *DendritesRepo {
	return &DendritesRepo{pool: pool, prom: prom}
}

func (r *DendritesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *DendritesRepo) MaterializeNames(ctx context.Context, userID string, names []string) (out []cell.NameID, err error) {
	if len(names) == 0 {
		return []cell.NameID{}, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()

	// anchor bucket: find-or-create the "Dendrites" cell, then the neuron
	// holding it.
	var bucketCellID string

	err = r.observe("dendrites.bucket_cell", func() error {
		return tx.QueryRow(
			ctx,
			`INSERT INTO cells (id, user_id, name, created_at, modified_at)
			 VALUES ($1,$2,$3,$4,$4)
			 ON CONFLICT (user_id, name) DO UPDATE SET modified_at = NOW()
			 RETURNING id`,
			uuid.NewString(), userID, cell.BucketName, now,
		).Scan(&bucketCellID)
	})
	if err != nil {
		return nil, err
	}

	var bucketID string

	err = r.observe("dendrites.bucket_neuron", func() error {
		return tx.QueryRow(
			ctx,
			`INSERT INTO neurons (id, user_id, cell_id, axone_id, created_at, updated_at)
			 VALUES ($1,$2,$3,NULL,$4,$4)
			 ON CONFLICT (user_id, cell_id, axone_id) DO UPDATE SET updated_at = NOW()
			 RETURNING id`,
			uuid.NewString(), userID, bucketCellID, now,
		).Scan(&bucketID)
	})
	if err != nil {
		return nil, err
	}

	// one cell per name
	cellIDs := make([]string, 0, len(names))

	err = r.observe("dendrites.upsert_cells", func() error {
		b := &pgx.Batch{}
		for _, name := range names {
			b.Queue(
				`INSERT INTO cells (id, user_id, name, created_at, modified_at)
				 VALUES ($1,$2,$3,$4,$4)
				 ON CONFLICT (user_id, name) DO UPDATE SET modified_at = NOW()
				 RETURNING id`,
				uuid.NewString(), userID, name, now,
			)
		}

		br := tx.SendBatch(ctx, b)
		defer br.Close()

		for range names {
			var id string
			if e := br.QueryRow().Scan(&id); e != nil {
				return e
			}
			cellIDs = append(cellIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// one neuron per cell, anchored under the bucket
	err = r.observe("dendrites.upsert_neurons", func() error {
		b := &pgx.Batch{}
		for _, cellID := range cellIDs {
			b.Queue(
				`INSERT INTO neurons (id, user_id, cell_id, axone_id, created_at, updated_at)
				 VALUES ($1,$2,$3,$4,$5,$5)
				 ON CONFLICT (user_id, cell_id, axone_id) DO UPDATE SET updated_at = NOW()`,
				uuid.NewString(), userID, cellID, bucketID, now,
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return nil, err
	}

	// read the resolved {neuron id, cell name} pairs back
	err = r.observe("dendrites.read_back", func() error {
		rows, e := tx.Query(
			ctx,
			`SELECT n.id, c.name
			 FROM neurons n
			 JOIN cells c ON c.id = n.cell_id
			 WHERE n.user_id = $1 AND n.axone_id = $2 AND c.id = ANY($3)
			 ORDER BY c.name ASC`,
			userID, bucketID, cellIDs,
		)
		if e != nil {
			return e
		}
		defer rows.Close()

		out = make([]cell.NameID, 0, len(cellIDs))
		for rows.Next() {
			var nid cell.NameID
			if e := rows.Scan(&nid.ID, &nid.Name); e != nil {
				return e
			}
			out = append(out, nid)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	return out, nil
}
