// Package document orchestrates document lifecycle across the version
// store, the metadata record store, and the integration stream.
//
// The hard operation is CreateFork: given an existing document, create a
// new independent document that shares history up to the fork point, is
// seeded with the parent's sequencing state at that point, is durably
// linked to its parent in both directions, and is announced downstream so
// later parent edits can be replayed into the fork.
//
// There is no cross-store transaction. The attributes at the fork point
// are validated before the fork ref is written, so a parent with corrupt
// history never gains a ref; the record insert and parent update run as a
// fork-join. A dangling ref or record from a failed attempt is inert, and
// retries regenerate the fork id rather than reusing it.
package document
