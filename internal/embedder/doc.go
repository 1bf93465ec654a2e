// Package embedder turns template strings into fixed-dimension vectors for the
// semantic template index.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", Dimension: 384, CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"User <NUM> logged in", "disk <*> full"},
//	})
//
// # Providers
//
// local (default): a deterministic feature-hashing model. Every word and
// every character trigram of the text is hashed (xxhash) into one of
// Dimension buckets with a hash-derived sign; the vector is L2-normalized.
// Templates sharing words or word fragments land close to each other. It
// needs no network and never changes between runs, so an index built today
// stays searchable tomorrow.
//
// openai, jina: OpenAI-compatible /v1/embeddings endpoints. Requests are
// retried with exponential backoff on transport errors, 429 and 5xx
// responses; other 4xx responses fail immediately.
//
// All vectors returned by this package are unit length, so inner product
// equals cosine similarity.
//
// # Caching
//
// Providers share an LRU cache keyed by an xxhash of provider, model and
// text. Cached vectors are copied on the way out:
//
//	cache := embedder.NewCache(10000)
//	if emb, ok := cache.Get(embedder.ComputeHash("local", "hash-v1", text)); ok {
//	    return emb
//	}
//
// # Switching Models
//
// An index is only meaningful for the model that built it. Changing
// provider, model or dimension for an existing project makes the stored
// index unreadable for the new model; the index manager detects the
// dimension change and starts a fresh index.
package embedder
