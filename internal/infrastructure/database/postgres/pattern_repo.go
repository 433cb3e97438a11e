package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/turtacn/nerruler/pkg/errors"
)

// PatternRow is one row of entity_patterns.
type PatternRow struct {
	Kind    string
	Label   string
	Pattern string
}

const (
	listPatternsSQL  = `SELECT kind, label, pattern FROM entity_patterns ORDER BY id`
	clearPatternsSQL = `DELETE FROM entity_patterns`
)

var patternColumns = []string{"kind", "label", "pattern"}

// PatternRepository reads and replaces the pattern table.
type PatternRepository struct {
	pool Pool
}

func NewPatternRepository(pool Pool) *PatternRepository {
	return &PatternRepository{pool: pool}
}

// List returns all rows in insertion order.
func (r *PatternRepository) List(ctx context.Context) ([]PatternRow, error) {
	rows, err := r.pool.Query(ctx, listPatternsSQL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query entity patterns")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PatternRow, error) {
		var p PatternRow
		err := row.Scan(&p.Kind, &p.Label, &p.Pattern)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan entity patterns")
	}
	return out, nil
}

// Replace swaps the whole table for rows in a single transaction, so readers
// see either the old or the new table.
func (r *PatternRepository) Replace(ctx context.Context, rows []PatternRow) error {
	return WithTransaction(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearPatternsSQL); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear entity patterns")
		}
		src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return []any{rows[i].Kind, rows[i].Label, rows[i].Pattern}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"entity_patterns"}, patternColumns, src); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert entity patterns")
		}
		return nil
	})
}
