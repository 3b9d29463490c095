// Package buffer owns the typed buffer variants and their ownership graph.
//
// Ownership boundary:
// - the closed set of buffer shapes (NULL, STRING/JSON, CARRAY, UBF, VIEW, PTR)
// - byte storage with an explicit capacity
// - the Resolver arena: identities, parent/child edges, single release
//
// Buffers are created through a Resolver and belong to exactly one owner.
// Buffers are not locked; one execution context mutates a buffer at a time.
// Only the Resolver's graph is guarded.
package buffer
