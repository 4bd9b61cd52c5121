// Package memory is the core of the engram semantic memory engine.
//
// A Memory is a durable fact with provenance metadata and a fixed-length
// embedding. The package defines the two backend interfaces the engine is
// built on:
//
//   - Store: persists memories and answers similarity queries under a
//     threshold (sqlite for durable projects, chromem for ephemeral runs)
//   - Embedder: converts text to unit-normalized vectors (a crash-isolated
//     worker process in production, a deterministic mock in tests)
//
// The Manager composes both with the sig signature extractor and the
// extract pipeline: file reads are answered from the store via a structural
// signature embedding, and session transcripts are distilled into new
// memories with LLM-assisted extraction plus similarity-based dedup.
//
// All retrieval and extraction degrades silently: a file with no structure,
// a malformed extraction reply, or an empty store never interrupts the
// workflow the engine augments.
package memory
