package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditEventType names an audit log event.
type AuditEventType string

const (
	AuditVaultAppend      AuditEventType = "vault_append"
	AuditVaultVerify      AuditEventType = "vault_verify"
	AuditPolicyFinding    AuditEventType = "policy_finding"
	AuditProducerCall     AuditEventType = "producer_call"
	AuditProducerFailure  AuditEventType = "producer_failure"
	AuditPipelineStart    AuditEventType = "pipeline_start"
	AuditPipelineComplete AuditEventType = "pipeline_complete"
	AuditPipelineError    AuditEventType = "pipeline_error"
)

// AuditLogger writes one JSON line per audit event. It is safe for
// concurrent use.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAudit opens an audit log at path. An empty path disables auditing.
func NewAudit(path string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{logger: zap.NewNop()}, nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "event"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	return &AuditLogger{logger: logger}, nil
}

// NopAudit returns an audit logger that discards every event.
func NopAudit() *AuditLogger {
	return &AuditLogger{logger: zap.NewNop()}
}

// Event records an audit event. A nil receiver is a no-op.
func (a *AuditLogger) Event(t AuditEventType, fields ...zap.Field) {
	if a == nil {
		return
	}
	a.logger.Info(string(t), fields...)
}

// Sync flushes buffered events.
func (a *AuditLogger) Sync() error {
	if a == nil {
		return nil
	}
	return a.logger.Sync()
}
