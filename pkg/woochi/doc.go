// Package woochi is the public entry point of the hybrid retrieval engine.
//
// An [Engine] owns an embedding provider, a registry of named collections
// and a retriever. Each collection pairs a BM25 index with a cosine vector
// index over the same chunk set; queries run both and fuse the min-max
// normalized scores by weighted sum.
//
//	┌──────────────────────────── Engine ────────────────────────────┐
//	│  Ingest ──▶ Registry ──▶ Collection (EMPTY → BUILDING → READY) │
//	│                              │                                 │
//	│                 chunk store + BM25 index + vector index        │
//	│                              │                                 │
//	│  Retrieve ─▶ Retriever ──────┴──▶ lexical ║ vector ──▶ Fuse    │
//	└────────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	cfg, _ := config.Load(".")
//	engine, err := woochi.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	err = engine.Ingest(ctx, "meditation_recursive", []*woochi.Chunk{
//	    {ID: "A", Text: "복식호흡의 기초"},
//	})
//	results, err := engine.Retrieve(ctx, "meditation_recursive", "호흡", 5)
//
// Querying a collection that was never ingested fails with an error
// matching errors.ErrCollectionNotReady. When the embedding provider fails,
// results degrade to lexical-only unless retrieval.allow_degraded is off.
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use.
package woochi
