package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/release-engineering/retasc/internal/mq"
)

// HandleRunRequested обрабатывает сообщение run.requested (mq.Handler).
//
// Если прогон уже выполняется или экземпляр не лидер, сообщение
// подтверждается: идущий прогон и так учтёт текущее состояние.
func (o *Orchestrator) HandleRunRequested(ctx context.Context, msg *mq.Message) error {
	if msg.Type != mq.MessageTypeRunRequested {
		o.logger.Warn("unexpected message type", "type", msg.Type, "message_id", msg.ID)
		return nil
	}

	payload, err := mq.ParsePayload[mq.RunRequestedPayload](msg)
	if err != nil {
		return err
	}

	req := Request{Trigger: "mq", DryRun: payload.DryRun}
	if payload.Today != "" {
		if req.Today, err = time.Parse(time.DateOnly, payload.Today); err != nil {
			// повтор не поможет
			o.logger.Error("invalid run request", "message_id", msg.ID, "today", payload.Today)
			return nil
		}
	}

	_, err = o.Run(ctx, req)
	switch {
	case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrNotLeader):
		o.logger.Info("run request skipped", "message_id", msg.ID, "reason", err)
		return nil
	case errors.Is(err, ErrInvalidRules):
		return nil
	case err != nil:
		return fmt.Errorf("run request %s: %w", msg.ID, err)
	}
	return nil
}
