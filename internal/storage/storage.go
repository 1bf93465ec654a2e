package storage

import (
	"context"
	"time"

	"github.com/dshills/logsift/pkg/types"
)

// Storage is read access to one template metadata file
type Storage interface {
	// Info returns the embedding settings the index was built with
	Info(ctx context.Context) (*IndexInfo, error)

	// Count returns the number of template rows
	Count(ctx context.Context) (int, error)

	// Templates returns every row ordered by position
	Templates(ctx context.Context) ([]types.TemplateRecord, error)

	// TemplatesAt returns the rows at the given positions, keyed by position
	TemplatesAt(ctx context.Context, positions []int) (map[int]types.TemplateRecord, error)

	Close() error
}

// IndexInfo describes how the vectors next to the metadata were produced
type IndexInfo struct {
	Provider  string
	Model     string
	Dimension int
	UpdatedAt time.Time
}
