// Package value owns the dynamic value model carried by typed buffers.
//
// Ownership boundary:
// - tagged union of scalars, byte strings, sequences and records
// - equality and traversal
// - conversion to and from plain Go values for tooling
//
// Conversion between values and buffers belongs to package codec.
package value
