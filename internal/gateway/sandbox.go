package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SandboxGateway is the development stand-in for the real processor
// integration. It accepts every well-formed batch and fabricates an external
// reference; settlement/return traffic is driven back in through the webhook
// endpoints instead.
type SandboxGateway struct {
	logger *zap.Logger
}

func NewSandboxGateway(logger *zap.Logger) *SandboxGateway {
	return &SandboxGateway{logger: logger}
}

func (g *SandboxGateway) SubmitBatch(ctx context.Context, payload BatchPayload) (string, error) {
	if len(payload.Instructions) == 0 {
		return "", fmt.Errorf("sandbox gateway: empty batch payload")
	}

	ref := "SBX-" + uuid.NewString()[:8]
	g.logger.Info("Sandbox gateway accepted batch",
		zap.String("batch_id", payload.BatchID.String()),
		zap.String("external_ref", ref),
		zap.Int("instructions", len(payload.Instructions)))
	return ref, nil
}
