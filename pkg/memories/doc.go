// Package memories provides chunked, integrity-checked uploads of large
// binary content and composes the resulting blobs into memory records.
//
// A client begins an upload session inside a capsule, sends the content in
// chunks (any order, last write per index wins) and finishes the session with
// the expected SHA-256 and total length. The service reassembles the chunks in
// index order, verifies both values and only then commits a blob. Blobs are
// grouped, together with small inline payloads and externally hosted files,
// into memories that share descriptive metadata. Deleting a memory either
// cascades to its blobs or leaves them in place.
//
// Chunk payloads live in a pluggable ChunkBackend (memory, filesystem, S3,
// LRU cache) and records in a Repository (memory, Postgres), provided under
// subpackages.
//
// # Identifiers
//
// Every identifier is "<kind>_<uuid>" where kind is one of cap, upl, blob,
// mem, ast, inl or ext. Type specific operations reject identifiers of any
// other kind with ErrInvalidArgument.
package memories
