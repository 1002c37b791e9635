package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ProgressMessageType severity of a user-visible progress message
type ProgressMessageType string

const (
	ProgressMessageInfo    ProgressMessageType = "INFO"
	ProgressMessageWarning ProgressMessageType = "WARNING"
	ProgressMessageError   ProgressMessageType = "ERROR"
)

// ProgressMessage what the operator sees of a running deployment
type ProgressMessage struct {
	ID        int64 // assigned by the store
	ProcessID string
	StepID    string
	Type      ProgressMessageType
	Text      string
	Timestamp time.Time
}

// ProgressMessageService stores progress messages, implemented by persistence.ProgressMessageRepo
type ProgressMessageService interface {
	Add(ctx context.Context, message *ProgressMessage) error
}

// StepLogger logs for one step invocation.
// Debugf goes to slog only, everything else is also recorded as a progress message.
type StepLogger struct {
	ctx       context.Context
	processID string
	stepID    string
	logger    *slog.Logger
	messages  ProgressMessageService
	now       func() time.Time
}

func NewStepLogger(ctx context.Context, processID string, stepID string, messages ProgressMessageService, now func() time.Time) *StepLogger {
	if now == nil {
		now = time.Now
	}
	return &StepLogger{
		ctx:       ctx,
		processID: processID,
		stepID:    stepID,
		logger:    slog.Default().With("process_id", processID, "step", stepID),
		messages:  messages,
		now:       now,
	}
}

func (l *StepLogger) Debugf(format string, args ...any) {
	l.logger.DebugContext(l.ctx, fmt.Sprintf(format, args...))
}

func (l *StepLogger) Infof(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	l.logger.InfoContext(l.ctx, text)
	l.record(ProgressMessageInfo, text)
}

func (l *StepLogger) Warnf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	l.logger.WarnContext(l.ctx, text)
	l.record(ProgressMessageWarning, text)
}

func (l *StepLogger) Errorf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	l.logger.ErrorContext(l.ctx, text)
	l.record(ProgressMessageError, text)
}

func (l *StepLogger) record(messageType ProgressMessageType, text string) {
	if l.messages == nil {
		return
	}
	err := l.messages.Add(l.ctx, &ProgressMessage{
		ProcessID: l.processID,
		StepID:    l.stepID,
		Type:      messageType,
		Text:      text,
		Timestamp: l.now(),
	})
	if err != nil {
		l.logger.ErrorContext(l.ctx, fmt.Sprintf("add progress message failed, err: %v", err))
	}
}
