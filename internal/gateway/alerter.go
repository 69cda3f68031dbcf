package gateway

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Alerter surfaces boundary anomalies to the external monitoring
// collaborator. A single unknown payment reference is noise from the
// processor's side; a stream of them is an operational problem.
type Alerter interface {
	UnknownPaymentRef(paymentID uuid.UUID)
}

// escalateAfter is the unknown-reference count at which log alerts escalate
// from warn to error.
const escalateAfter = 5

// LogAlerter counts unknown-reference occurrences and escalates once they
// keep happening.
type LogAlerter struct {
	logger *zap.Logger

	mu      sync.Mutex
	unknown int
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) UnknownPaymentRef(paymentID uuid.UUID) {
	a.mu.Lock()
	a.unknown++
	count := a.unknown
	a.mu.Unlock()

	fields := []zap.Field{
		zap.String("payment_id", paymentID.String()),
		zap.Int("occurrences", count),
	}
	if count >= escalateAfter {
		a.logger.Error("Repeated gateway notifications for unknown payment identifiers", fields...)
		return
	}
	a.logger.Warn("Gateway notification for unknown payment identifier discarded", fields...)
}
