package execsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue enqueues run_agent_background jobs onto the Background
// Runner's topic (spec component K), matching the wire shape
// orchestrator.JobEnvelope expects on the consuming side.
type KafkaQueue struct {
	Writer *kafka.Writer
	Topic  string
}

func NewKafkaQueue(writer *kafka.Writer, topic string) *KafkaQueue {
	return &KafkaQueue{Writer: writer, Topic: topic}
}

func (q *KafkaQueue) EnqueueRunAgentBackground(ctx context.Context, job RunAgentBackgroundJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("execsvc: encode run_agent_background job: %w", err)
	}
	msg := kafka.Message{Topic: q.Topic, Key: []byte(job.RequestID), Value: payload}
	if err := q.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("execsvc: enqueue run_agent_background: %w", err)
	}
	return nil
}
