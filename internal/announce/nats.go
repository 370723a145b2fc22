package announce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/branchd/internal/announce"

const defaultFlushTimeout = 5 * time.Second

// NATSAnnouncer publishes integration events to NATS. Each partition key
// maps to its own subject under the configured prefix; NATS preserves
// publish order per subject on a single connection, which carries the
// per-key ordering guarantee.
type NATSAnnouncer struct {
	nc           *nats.Conn
	prefix       string
	flushTimeout time.Duration
	logger       *zap.Logger

	sendCounter metric.Int64Counter
}

// Option configures a NATSAnnouncer.
type Option func(*NATSAnnouncer)

// WithFlushTimeout overrides the default flush timeout used when the
// context carries no deadline.
func WithFlushTimeout(d time.Duration) Option {
	return func(a *NATSAnnouncer) {
		if d > 0 {
			a.flushTimeout = d
		}
	}
}

// NewNATSAnnouncer creates an announcer publishing under prefix
// (e.g. "integrations").
func NewNATSAnnouncer(nc *nats.Conn, prefix string, logger *zap.Logger, opts ...Option) (*NATSAnnouncer, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = "integrations"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &NATSAnnouncer{nc: nc, prefix: prefix, flushTimeout: defaultFlushTimeout, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	a.sendCounter, err = meter.Int64Counter(
		"branchd.announce.sends_total",
		metric.WithDescription("Total integration announcements sent"),
		metric.WithUnit("{send}"),
	)
	if err != nil {
		logger.Warn("failed to create send counter", zap.Error(err))
	}

	return a, nil
}

// Send publishes payload on the partition key's subject and flushes the
// connection so the server has acknowledged the write before returning.
func (a *NATSAnnouncer) Send(ctx context.Context, partitionKey string, payload []byte) error {
	subject := fmt.Sprintf("%s.%s", a.prefix, subjectToken(partitionKey))

	if err := a.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	timeout := a.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := a.nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flushing publish to %s: %w", subject, err)
	}

	if a.sendCounter != nil {
		a.sendCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("subject", subject),
		))
	}

	a.logger.Debug("sent integration announcement",
		zap.String("subject", subject),
		zap.Int("bytes", len(payload)))

	return nil
}

// subjectToken makes a partition key safe for use as a NATS subject token.
// Tokens must not contain separators or wildcards.
func subjectToken(key string) string {
	replacer := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return replacer.Replace(key)
}
