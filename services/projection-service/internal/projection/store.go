package projection

import (
	"context"
	"encoding/json"

	"github.com/johnhamlin/event-driven-demo/libs/db"
)

// Row is one projection entry: a compound key plus the denormalized
// attribute document stored under it.
type Row struct {
	PartitionKey string
	SortKey      string
	Attributes   map[string]any
}

// Store persists projection rows in the work_order_projections table,
// primary-keyed on (partition_key, sort_key).
type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Put writes the full attribute document at the given key, overwriting any
// existing row. The overwrite is what makes reapplying the same envelope a
// no-op on the read model.
func (s *Store) Put(ctx context.Context, partitionKey, sortKey string, attributes map[string]any) error {
	payload, err := json.Marshal(attributes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO work_order_projections (partition_key, sort_key, attributes)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition_key, sort_key)
		DO UPDATE SET attributes = EXCLUDED.attributes, updated_at = now()
	`, partitionKey, sortKey, payload)
	return err
}

// Delete removes the row at the given key. Deleting an absent row is not an
// error, so replayed status migrations stay idempotent.
func (s *Store) Delete(ctx context.Context, partitionKey, sortKey string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM work_order_projections
		WHERE partition_key = $1 AND sort_key = $2
	`, partitionKey, sortKey)
	return err
}

// QueryByPartitionPrefix returns rows under a partition key whose sort key
// starts with sortKeyPrefix (empty prefix returns the whole partition),
// ordered by sort key.
func (s *Store) QueryByPartitionPrefix(ctx context.Context, partitionKey, sortKeyPrefix string) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT partition_key, sort_key, attributes
		FROM work_order_projections
		WHERE partition_key = $1 AND sort_key LIKE $2 || '%'
		ORDER BY sort_key
	`, partitionKey, sortKeyPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var raw []byte
		if err := rows.Scan(&row.PartitionKey, &row.SortKey, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &row.Attributes); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
