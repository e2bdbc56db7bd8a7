// Package vectorstore manages the two vector indices backing retrieval.
//
// The semantic index (1024-dim) holds text-derived records: health, location,
// voice, photo descriptions, memories, shared activities. The visual index
// (512-dim) holds image-similarity records only. The two are independent
// Qdrant collections and are never cross-queried.
//
// The store scopes every write and delete by owner metadata but does not
// enforce privacy itself; callers must resolve the permitted owner scope
// before querying.
package vectorstore
