package batch

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
)

// AuditRecorder appends one entry per bulk operation. It never fails the
// caller: write errors are logged and dropped.
type AuditRecorder struct {
	Log    payroll.AuditLog
	Logger *zap.Logger
	Clock  payroll.Clock
}

// AuditPayload is what a bulk operation contributes to its audit entry.
type AuditPayload struct {
	TargetIDs []string
	Options   any
	Result    Result
}

// Record appends the entry. The write is detached from ctx cancellation so a
// request aborted mid-batch is still audited.
func (a *AuditRecorder) Record(ctx context.Context, actorID string, operation Operation, payload AuditPayload) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	options, err := json.Marshal(payload.Options)
	if err != nil {
		logger.Warn("audit: options not serializable", zap.Error(err))
		options = []byte("{}")
	}

	entry := payroll.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Operation:  string(operation),
		TargetIDs:  payload.TargetIDs,
		Options:    options,
		Committed:  payload.Result.Committed,
		Succeeded:  payload.Result.SucceededCount,
		Unaffected: payload.Result.UnaffectedCount,
		Failed:     len(payload.Result.Failed),
		Message:    payload.Result.Message,
		Timestamp:  a.Clock.Now(),
	}

	if err := a.Log.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("audit: write failed",
			zap.String("actor", actorID),
			zap.String("operation", string(operation)),
			zap.Int("targets", len(payload.TargetIDs)),
			zap.Error(err),
		)
	}
}
