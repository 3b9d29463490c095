// Package codec converts between dynamic values and typed buffers.
//
// Ownership boundary:
// - Value -> Buffer encoding with capacity growth
// - Buffer -> Value decoding
// - occurrence mutation of existing fielded records
// - release of buffers and every nested buffer they own
//
// A Codec performs no locking; callers must not use one buffer from two
// execution contexts at once.
package codec
