// Package registry owns the field and view catalog shared by encoder and decoder.
//
// Ownership boundary:
// - field name <-> id bijection and base types
// - view layouts with sizes fixed at build time
// - schema file loading
//
// A Registry is immutable once built and safe for concurrent readers.
package registry
