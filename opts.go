package acprpc

import (
	"fmt"
	"log"

	"github.com/acpcore/acprpc/metrics"
)

// Logger is the minimal logging sink the connection engine calls into.
// Callers can plug in any logging library by wrapping its Printf/Sprint in
// a one-line adapter.
type Logger func(string)

func (lg Logger) logf(format string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(format, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the returned
// function sends logs to the default logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

// ConnectionOptions configures a Connection. A nil *ConnectionOptions is
// valid and selects the defaults described on each field.
type ConnectionOptions struct {
	// Matrix supplies the role matrix used to decide outbound wrapping.
	// If nil, DefaultMatrix is used.
	Matrix *RoleMatrix

	// Logger receives trace lines for protocol errors and dropped
	// messages. If nil, logging is discarded.
	Logger Logger

	// Metrics receives connection-local counters (rejected and malformed
	// frames, unmatched responses, handler errors, dropped notifications,
	// unclaimed requests, cancelled requests). If nil, a private
	// collector is still created so Info() has something to report.
	Metrics *metrics.M

	// WriteQueueSize bounds the outgoing writer's backlog. A
	// SendRequestTo/SendNotificationTo call blocks once the backlog is
	// full, rather than growing it unboundedly, so a slow peer
	// back-pressures senders. Defaults to 64.
	WriteQueueSize int

	// DispatchConcurrency bounds how many Responder jobs may run at once on
	// a Connection, across every responder sharing it. Responders already
	// serialize their own jobs; this bounds the aggregate across responders
	// registered on the same connection. Defaults to 8.
	DispatchConcurrency int64
}

func (o *ConnectionOptions) matrix() *RoleMatrix {
	if o == nil || o.Matrix == nil {
		return DefaultMatrix
	}
	return o.Matrix
}

func (o *ConnectionOptions) logger() Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

func (o *ConnectionOptions) metricsOrNew() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}

func (o *ConnectionOptions) writeQueueSize() int {
	if o == nil || o.WriteQueueSize <= 0 {
		return 64
	}
	return o.WriteQueueSize
}

func (o *ConnectionOptions) dispatchConcurrency() int64 {
	if o == nil || o.DispatchConcurrency <= 0 {
		return 8
	}
	return o.DispatchConcurrency
}
