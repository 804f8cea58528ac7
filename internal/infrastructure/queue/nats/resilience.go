package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
)

var (
	transient = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	permanent = resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	ignored   = resilience.ErrorClassification{}
)

// classifyNATSError decides whether a publish is worth retrying. A dropped
// connection or a full reconnect buffer clears up once the server is back;
// an oversized payload or a bad subject never does.
func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return ignored
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ignored
	case resilience.IsCircuitOpen(err):
		return transient
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrReconnectBufExceeded),
		errors.Is(err, nats.ErrDisconnected):
		return transient
	default:
		return permanent
	}
}

func wrapTemporaryIfNeeded(err error) error {
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}
