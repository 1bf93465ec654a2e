// Package vectorindex maintains the per-project semantic index over mined
// templates.
//
// A project directory holds two files that always move together:
//
//   - templates.index: a flat float32 matrix, one L2-normalized row per template
//   - templates.meta.db: the TemplateRecord of each row (see package storage)
//
// AddTemplates appends the unique templates of a parsed file. Writers are
// serialized per project in-process and across processes through the
// templates.lock advisory lock; both files are replaced by rename. Readers
// take no lock.
//
// Search embeds the query with the same model and ranks rows by inner
// product, which equals cosine similarity on unit vectors.
//
//	m := vectorindex.New(emb, vectorindex.Config{TopK: 5}, logger)
//	added, err := m.AddTemplates(ctx, projectDir, rows, "syslog.txt")
//	hits, err := m.Search(ctx, projectDir, "disk full", 0)
package vectorindex
