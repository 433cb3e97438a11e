package patternsource

import (
	"context"

	"github.com/turtacn/nerruler/internal/infrastructure/database/postgres"
	"github.com/turtacn/nerruler/pkg/errors"
)

// ObjectPutter uploads an object.
type ObjectPutter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// PatternReplacer replaces the database pattern table.
type PatternReplacer interface {
	Replace(ctx context.Context, rows []postgres.PatternRow) error
}

// PublishObject encodes t in the format implied by key and uploads it.
func PublishObject(ctx context.Context, dst ObjectPutter, key string, t *Table) error {
	format, err := FormatFromPath(key)
	if err != nil {
		return err
	}
	data, err := Encode(t, format)
	if err != nil {
		return err
	}
	return dst.Put(ctx, key, data, format.ContentType())
}

// PublishDatabase replaces the database table with t's patterns. Labels are
// not stored.
func PublishDatabase(ctx context.Context, dst PatternReplacer, t *Table) error {
	rows := make([]postgres.PatternRow, len(t.Patterns))
	for i, e := range t.Patterns {
		if e.Kind != KindPhrase && e.Kind != KindRegex {
			return errors.Newf(errors.ErrCodeInvalidPattern, "pattern %d has unknown kind %q", i, e.Kind)
		}
		rows[i] = postgres.PatternRow{Kind: string(e.Kind), Label: e.Label, Pattern: e.Pattern}
	}
	return dst.Replace(ctx, rows)
}
