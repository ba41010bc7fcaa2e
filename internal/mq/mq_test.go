package mq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
)

func TestParsePayload_RoundTripThroughEnvelope(t *testing.T) {
	run := domain.NewRun("api", time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), true)
	run.MarkSucceeded([]domain.TaskResult{{Rule: "ga", ReleaseKey: "product:rhel/rhel-10.1", State: domain.StateInProgress}})

	body, err := json.Marshal(newMessage(MessageTypeRunFinished, runFinished(run)))
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, MessageTypeRunFinished, msg.Type)
	assert.NotEmpty(t, msg.ID)

	got, err := ParsePayload[RunFinishedPayload](&msg)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.RunID)
	assert.Equal(t, domain.RunStatusSucceeded, got.Status)
	assert.Equal(t, "2025-07-05", got.Today)
	assert.True(t, got.DryRun)
	assert.Equal(t, 1, got.Summary[domain.StateInProgress])
}

func TestParsePayload_RunRequested(t *testing.T) {
	msg := &Message{Type: MessageTypeRunRequested, Payload: map[string]any{"dry_run": true, "today": "2025-06-01"}}

	got, err := ParsePayload[RunRequestedPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, RunRequestedPayload{DryRun: true, Today: "2025-06-01"}, got)

	_, err = ParsePayload[RunRequestedPayload](&Message{Payload: "not an object"})
	assert.Error(t, err)
}

func TestTopology_DeadLettersRunRequests(t *testing.T) {
	exchanges, queues, bindings := topology()
	assert.Len(t, exchanges, 3)

	var requests *queueDecl
	for i := range queues {
		if queues[i].name == QueueRunRequests {
			requests = &queues[i]
		}
	}
	require.NotNil(t, requests)
	assert.Equal(t, string(ExchangeDLQ), requests.args["x-dead-letter-exchange"])

	bound := map[Queue]Exchange{}
	for _, b := range bindings {
		bound[b.queue] = b.exchange
	}
	assert.Equal(t, ExchangeRuns, bound[QueueRunRequests])
	assert.Equal(t, ExchangeDLQ, bound[QueueDLQRunRequests])
}
