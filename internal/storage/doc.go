// Package storage persists the template metadata that sits next to a
// project's vector index.
//
// Each project directory holds one SQLite file, templates.meta.db, with a
// row per vector of templates.index. The row's position column is the
// vector's row number, so the two files must always agree on length.
//
// # Schema
//
// Tables:
//   - schema_version: applied migrations (semantic versions)
//   - index_info: embedding provider, model and dimension the vectors were built with
//   - templates: position, template, frequency, filename
//
// # Writes
//
// The file is never updated in place. Write builds a complete database in a
// temporary sibling and renames it over the old one, so readers see either
// the previous or the next generation:
//
//	err := storage.Write(ctx, path, storage.IndexInfo{
//	    Provider:  "local",
//	    Model:     "hash-v1",
//	    Dimension: 384,
//	}, records)
//
// # Reads
//
//	db, err := storage.Open(path)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // no index yet
//	}
//	defer db.Close()
//
//	records, err := db.Templates(ctx)
//
// # Build Tags
//
// Pure Go build (default, or purego tag) uses modernc.org/sqlite.
//
// CGO build (sqlite_cgo tag) uses github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo"
package storage
