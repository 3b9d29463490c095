// Package wire moves whole buffers across execution contexts.
//
// Ownership boundary:
// - the transport frame of one buffer (header, subtype, payload)
// - inlining nested wrappers so a frame needs no arena on the other side
// - content digests
//
// Frame layout (big endian):
//
//	magic u32 | version u16 | tag u8 | flags u8 | subtype_len u16 | reserved u16 |
//	inline_count u32 | payload_len u64 | subtype | payload
package wire
