// Package storage provides session-scoped key/value storage for the auth flow.
//
// A [Store] is the narrow get/set/remove contract the token store and the flow
// controller depend on. It stands in for a browser's session storage: values are
// strings (JSON documents in practice) and the whole scope disappears when the
// browsing session ends.
//
// A [Backend] hands out one [Store] per session id and ends sessions:
//   - [MemoryBackend] keeps everything in process memory.
//   - [SQLiteBackend] persists sessions in SQLite using the embedded migrations from the shared package.
//   - [RedisBackend] keeps each session in a Redis hash that expires after the configured TTL.
//
// Writes are last-write-wins. None of the backends lock across keys; callers only
// ever move the token bundle forward in validity, so the race is tolerated.
package storage
