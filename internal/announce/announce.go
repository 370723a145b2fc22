// Package announce delivers integration events to the downstream ordered
// message pipeline.
package announce

import "context"

// Announcer sends an event into a per-document partitioned stream.
// Delivery order is preserved within one partition key; no ordering is
// guaranteed across keys. Delivery is at-least-once.
type Announcer interface {
	Send(ctx context.Context, partitionKey string, payload []byte) error
}
