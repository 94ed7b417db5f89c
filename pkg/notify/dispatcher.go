package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notification carries one informational message to the delivery
// collaborator. Delivery never gates a state transition.
type Notification struct {
	Recipients []string          `json:"recipients"`
	Template   string            `json:"template"`
	Data       map[string]string `json:"data,omitempty"`
}

// Templates the engine dispatches.
const (
	TemplateApprovalRequested   = "approval_requested"
	TemplateEmergencyActivation = "emergency_activation"
	TemplateSessionCreated      = "session_created"
	TemplateSessionRevoked      = "session_revoked"
)

// Dispatcher sends notifications best-effort. Implementations must not
// block; the engine calls Dispatch from transition paths.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// LogDispatcher records notifications in the process log. The default when
// no delivery backend is configured.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) {
	d.logger.Info("notification dispatched",
		zap.Strings("recipients", n.Recipients),
		zap.String("template", n.Template),
		zap.Any("data", n.Data))
}

// NopDispatcher drops notifications.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Notification) {}
