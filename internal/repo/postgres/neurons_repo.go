package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/axone/ax-server/internal/domain/cell"
	"github.com/axone/ax-server/internal/domain/neuron"
	"github.com/axone/ax-server/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NeuronsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewNeuronsRepo(pool *pgxpool.Pool, prom *observability.Prom) *NeuronsRepo {
	return &NeuronsRepo{pool: pool, prom: prom}
}

func (r *NeuronsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Upsert creates or touches the neuron selected by (user, cell, axone). When
// setDendrites is true the dendrite links are replaced wholesale with the
// given ids (nil/empty clears them); otherwise existing links are kept.
func (r *NeuronsRepo) Upsert(ctx context.Context, userID, cellID string, axoneID *string, dendrites []string, setDendrites bool) (n neuron.Neuron, inserted bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return neuron.Neuron{}, false, err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()

	err = r.observe("neurons.upsert", func() error {
		return tx.QueryRow(
			ctx,
			`INSERT INTO neurons (id, user_id, cell_id, axone_id, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$5)
			 ON CONFLICT (user_id, cell_id, axone_id)
			 DO UPDATE SET updated_at = NOW()
			 RETURNING id, created_at, updated_at, (xmax = 0)`,
			uuid.NewString(),
			userID,
			cellID,
			axoneID,
			now,
		).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt, &inserted)
	})

	if err != nil {
		return neuron.Neuron{}, false, err
	}

	n.UserID = userID
	n.CellID = cellID
	n.AxoneID = axoneID

	if setDendrites {
		if err = r.replaceDendrites(ctx, tx, n.ID, dendrites); err != nil {
			return neuron.Neuron{}, false, err
		}
		n.Dendrites = append([]string(nil), dendrites...)
	} else {
		if n.Dendrites, err = r.dendriteIDs(ctx, tx, n.ID); err != nil {
			return neuron.Neuron{}, false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return neuron.Neuron{}, false, err
	}

	return n, inserted, nil
}

func (r *NeuronsRepo) replaceDendrites(ctx context.Context, tx pgx.Tx, neuronID string, dendrites []string) error {
	return r.observe("neurons.replace_dendrites", func() error {
		if _, err := tx.Exec(ctx, `DELETE FROM neuron_dendrites WHERE neuron_id = $1`, neuronID); err != nil {
			return err
		}

		if len(dendrites) == 0 {
			return nil
		}

		b := &pgx.Batch{}
		for _, d := range dendrites {
			b.Queue(
				`INSERT INTO neuron_dendrites (neuron_id, dendrite_id)
				 VALUES ($1,$2)
				 ON CONFLICT DO NOTHING`,
				neuronID, d,
			)
		}
		return tx.SendBatch(ctx, b).Close()
	})
}

func (r *NeuronsRepo) dendriteIDs(ctx context.Context, q querier, neuronID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT dendrite_id FROM neuron_dendrites WHERE neuron_id = $1 ORDER BY dendrite_id`,
		neuronID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// dendriteViews resolves the dendrite links of the given neurons to
// {id, cell name} pairs, keyed by owning neuron.
func (r *NeuronsRepo) dendriteViews(ctx context.Context, q querier, neuronIDs []string) (map[string][]cell.NameID, error) {
	byNeuron := make(map[string][]cell.NameID, len(neuronIDs))

	if len(neuronIDs) == 0 {
		return byNeuron, nil
	}

	rows, err := q.Query(ctx,
		`SELECT nd.neuron_id, d.id, dc.name
		 FROM neuron_dendrites nd
		 JOIN neurons d ON d.id = nd.dendrite_id
		 JOIN cells dc ON dc.id = d.cell_id
		 WHERE nd.neuron_id = ANY($1)
		 ORDER BY dc.name ASC, d.id ASC`,
		neuronIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var owner string
		var nid cell.NameID

		if err := rows.Scan(&owner, &nid.ID, &nid.Name); err != nil {
			return nil, err
		}
		byNeuron[owner] = append(byNeuron[owner], nid)
	}

	return byNeuron, rows.Err()
}

const viewSelect = `
	SELECT n.id, n.created_at, n.updated_at,
	       c.id, c.name,
	       an.id, ac.name
	FROM neurons n
	JOIN cells c ON c.id = n.cell_id
	LEFT JOIN neurons an ON an.id = n.axone_id
	LEFT JOIN cells ac ON ac.id = an.cell_id
`

func scanView(rows pgx.Rows) (neuron.View, error) {
	var v neuron.View
	var axoneID, axoneName *string

	err := rows.Scan(
		&v.ID, &v.CreatedAt, &v.UpdatedAt,
		&v.Cell.ID, &v.Cell.Name,
		&axoneID, &axoneName,
	)
	if err != nil {
		return neuron.View{}, err
	}

	if axoneID != nil {
		ax := cell.NameID{ID: *axoneID}
		if axoneName != nil {
			ax.Name = *axoneName
		}
		v.Axone = &ax
	}

	return v, nil
}

// List returns populated neurons of the user, optionally narrowed by axone
// (empty string selects root neurons) and cell.
func (r *NeuronsRepo) List(ctx context.Context, userID string, filter neuron.ListFilter) (out []neuron.View, err error) {
	query := viewSelect + ` WHERE n.user_id = $1`
	args := []any{userID}

	if filter.Axone != nil {
		if *filter.Axone == "" {
			query += ` AND n.axone_id IS NULL`
		} else {
			args = append(args, *filter.Axone)
			query += ` AND n.axone_id = $2`
		}
	}

	if filter.Cell != nil && *filter.Cell != "" {
		args = append(args, *filter.Cell)
		switch len(args) {
		case 2:
			query += ` AND n.cell_id = $2`
		default:
			query += ` AND n.cell_id = $3`
		}
	}

	query += ` ORDER BY n.created_at ASC, n.id ASC`

	var rows pgx.Rows

	err = r.observe("neurons.list", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, query, args...)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]neuron.View, 0)
	ids := make([]string, 0)

	for rows.Next() {
		v, scanErr := scanView(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, v)
		ids = append(ids, v.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	dens, err := r.dendriteViews(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}

	for i := range out {
		if d, ok := dens[out[i].ID]; ok {
			out[i].Dendrites = d
		} else {
			out[i].Dendrites = []cell.NameID{}
		}
	}

	return out, nil
}

func (r *NeuronsRepo) Count(ctx context.Context, userID string, axone *string) (int, error) {
	query := `SELECT COUNT(*) FROM neurons WHERE user_id = $1`
	args := []any{userID}

	if axone != nil {
		if *axone == "" {
			query += ` AND axone_id IS NULL`
		} else {
			args = append(args, *axone)
			query += ` AND axone_id = $2`
		}
	}

	var total int
	err := r.observe("neurons.count", func() error {
		return r.pool.QueryRow(ctx, query, args...).Scan(&total)
	})
	return total, err
}

func (r *NeuronsRepo) GetByID(ctx context.Context, id, userID string) (neuron.View, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("neurons.get_by_id", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, viewSelect+` WHERE n.id = $1 AND n.user_id = $2`, id, userID)
		return qerr
	})
	if err != nil {
		return neuron.View{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return neuron.View{}, err
		}
		return neuron.View{}, neuron.ErrNotFound
	}

	v, err := scanView(rows)
	if err != nil {
		return neuron.View{}, err
	}
	rows.Close()

	dens, err := r.dendriteViews(ctx, r.pool, []string{v.ID})
	if err != nil {
		return neuron.View{}, err
	}

	v.Dendrites = dens[v.ID]
	if v.Dendrites == nil {
		v.Dendrites = []cell.NameID{}
	}

	return v, nil
}

// Update patches axone and/or dendrite links of an owned neuron.
func (r *NeuronsRepo) Update(ctx context.Context, id, userID string, req neuron.UpdateRequest) (n neuron.Neuron, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return neuron.Neuron{}, err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// $3/$4 carry the patch semantics: only a present axone key touches the
	// column, and a present null clears it
	err = r.observe("neurons.update", func() error {
		return tx.QueryRow(
			ctx,
			`UPDATE neurons
			 SET axone_id   = CASE WHEN $3 THEN $4::uuid ELSE axone_id END,
			     updated_at = NOW()
			 WHERE id = $1 AND user_id = $2
			 RETURNING id, user_id, cell_id, axone_id, created_at, updated_at`,
			id,
			userID,
			req.AxoneID.Set,
			req.AxoneID.Value,
		).Scan(&n.ID, &n.UserID, &n.CellID, &n.AxoneID, &n.CreatedAt, &n.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return neuron.Neuron{}, neuron.ErrNotFound
		}
		return neuron.Neuron{}, err
	}

	if req.Dendrites != nil {
		if err = r.replaceDendrites(ctx, tx, n.ID, *req.Dendrites); err != nil {
			return neuron.Neuron{}, err
		}
		n.Dendrites = append([]string(nil), (*req.Dendrites)...)
	} else {
		if n.Dendrites, err = r.dendriteIDs(ctx, tx, n.ID); err != nil {
			return neuron.Neuron{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return neuron.Neuron{}, err
	}

	return n, nil
}

func (r *NeuronsRepo) Delete(ctx context.Context, id, userID string) (err error) {
	err = r.observe("neurons.delete", func() error {
		tag, e := r.pool.Exec(ctx, `DELETE FROM neurons WHERE id = $1 AND user_id = $2`, id, userID)
		if e != nil {
			return e
		}
		if tag.RowsAffected() == 0 {
			return neuron.ErrNotFound
		}
		return nil
	})

	return err
}

// ListNameIDs backs the "neurons" catalog: every neuron of the user with its
// cell name attached.
func (r *NeuronsRepo) ListNameIDs(ctx context.Context, userID string) (out []cell.NameID, err error) {
	var rows pgx.Rows

	err = r.observe("neurons.list_name_ids", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx,
			`SELECT n.id, c.name
			 FROM neurons n
			 JOIN cells c ON c.id = n.cell_id
			 WHERE n.user_id = $1
			 ORDER BY c.name ASC, n.id ASC`,
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

	return out, rows.Err()
}

// ListItems is the flattened cell-first listing: one entry per neuron with
// the cell's identity hoisted to the top level. Page/limit follow the
// 1-indexed contract (skip = limit * (page-1)); limit <= 0 disables paging.
func (r *NeuronsRepo) ListItems(ctx context.Context, userID string, axone *string, limit, offset int) (out []neuron.Item, err error) {
	query := `
		SELECT n.id, c.id, c.name
		FROM neurons n
		JOIN cells c ON c.id = n.cell_id
		WHERE n.user_id = $1`
	args := []any{userID}

	if axone != nil && *axone != "" {
		args = append(args, *axone)
		query += ` AND n.axone_id = $2`
	}

	query += ` ORDER BY n.created_at ASC, n.id ASC`

	if limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
		args = append(args, limit, offset)
	}

	var rows pgx.Rows

	err = r.observe("neurons.list_items", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, query, args...)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]neuron.Item, 0)
	ids := make([]string, 0)

	for rows.Next() {
		var it neuron.Item
		if err = rows.Scan(&it.NeuronID, &it.ID, &it.Name); err != nil {
			return nil, err
		}
		out = append(out, it)
		ids = append(ids, it.NeuronID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	dens, err := r.dendriteViews(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}

	for i := range out {
		if d, ok := dens[out[i].NeuronID]; ok {
			out[i].Dendrites = d
		} else {
			out[i].Dendrites = []cell.NameID{}
		}
	}

	return out, nil
}
