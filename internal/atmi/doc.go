// Package atmi connects typed buffers to the services that exchange them.
//
// Ownership boundary:
// - explicit per-caller Context handles (codec, resolver arena, frame limits)
// - synchronous and asynchronous service calls on an in-process Bus
// - conversations between one client and one service instance
// - persistent queues of marshaled buffers
//
// Buffers never cross a Context by reference: they are marshaled with the
// wire package and rebuilt in the receiving Context's arena.
package atmi
