// Package orchestrator implements the Background Runner (spec component
// K): a Kafka consumer pool that drains run_agent_background jobs
// enqueued by the Execution Service and the Trigger Service's schedule
// delivery path, and drives each one through the Thread Runner.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"agentcore/internal/execsvc"
)

// Runner executes one run_agent_background job to completion (the
// Thread Runner's Run, wrapped to accept the job's fields).
type Runner interface {
	RunAgent(ctx context.Context, job execsvc.RunAgentBackgroundJob) error
}

// Producer abstracts the kafka writer behavior needed by the handler.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// JobEnvelope is the wire shape of a queued run_agent_background message
// (spec §4.9 step 4, §4.6).
type JobEnvelope struct {
	execsvc.RunAgentBackgroundJob
	ReplyTopic string `json:"reply_topic,omitempty"`
}

// ResponseEnvelope is the output message structure (for both success and DLQ).
type ResponseEnvelope struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// HandleRunAgentMessage processes a single Kafka message carrying a
// run_agent_background job. It publishes either a success response or a
// DLQ message. Transient errors are returned so the caller may retry;
// non-transient errors are handled internally and nil is returned to
// allow committing the offset.
func HandleRunAgentMessage(
	ctx context.Context,
	runner Runner,
	dedupe DedupeStore,
	producer Producer,
	msg kafka.Message,
	defaultReplyTopic string,
	dedupeTTL time.Duration,
	runTimeout time.Duration,
) error {
	corrIDForLog := string(msg.Key)

	var job JobEnvelope
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		replyTopic := defaultReplyTopic
		env := ResponseEnvelope{RequestID: corrIDForLog, Status: "error", Error: fmt.Sprintf("malformed job JSON: %v", err)}
		payload, _ := json.Marshal(env)
		dlqTopic := dlqTopicFor(replyTopic)
		if werr := producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(corrIDForLog), Value: payload}); werr != nil {
			log.Printf("failed to publish DLQ for malformed JSON (request_id=%s): %v", corrIDForLog, werr)
		}
		return nil
	}

	requestID := job.RequestID
	if requestID == "" {
		replyTopic := pickReplyTopic(job.ReplyTopic, defaultReplyTopic)
		env := ResponseEnvelope{RequestID: corrIDForLog, Status: "error", Error: "missing request_id"}
		payload, _ := json.Marshal(env)
		dlqTopic := dlqTopicFor(replyTopic)
		if werr := producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(corrIDForLog), Value: payload}); werr != nil {
			log.Printf("failed to publish DLQ for missing request_id: %v", werr)
		}
		return nil
	}
	corrIDForLog = requestID

	if prev, err := dedupe.Get(ctx, requestID); err != nil {
		return fmt.Errorf("dedupe get failed: %w", err)
	} else if prev != "" {
		log.Printf("dedupe hit, skipping processing (request_id=%s)", requestID)
		return nil
	}

	if job.AgentRunID == "" || job.ThreadID == "" {
		replyTopic := pickReplyTopic(job.ReplyTopic, defaultReplyTopic)
		env := ResponseEnvelope{RequestID: requestID, Status: "error", Error: "missing agent_run_id or thread_id"}
		payload, _ := json.Marshal(env)
		dlqTopic := dlqTopicFor(replyTopic)
		if werr := producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(requestID), Value: payload}); werr != nil {
			log.Printf("failed to publish DLQ for incomplete job (request_id=%s): %v", requestID, werr)
		}
		return nil
	}

	replyTopic := pickReplyTopic(job.ReplyTopic, defaultReplyTopic)

	var runCtx context.Context = ctx
	cancel := func() {}
	if runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, runTimeout)
	}
	defer cancel()

	err := runner.RunAgent(runCtx, job.RunAgentBackgroundJob)
	if err != nil {
		if isTransientError(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("transient run_agent error (request_id=%s): %w", requestID, err)
		}

		env := ResponseEnvelope{RequestID: requestID, Status: "error", Error: err.Error()}
		payload, _ := json.Marshal(env)
		dlqTopic := dlqTopicFor(replyTopic)
		if werr := producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(requestID), Value: payload}); werr != nil {
			log.Printf("failed to publish DLQ for non-transient error (request_id=%s): %v", requestID, werr)
		}
		return nil
	}

	resp := ResponseEnvelope{RequestID: requestID, Status: "success"}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("response marshal failed (request_id=%s): %w", requestID, err)
	}
	if werr := producer.WriteMessages(ctx, kafka.Message{Topic: replyTopic, Key: []byte(requestID), Value: payload}); werr != nil {
		return fmt.Errorf("producer write failed (request_id=%s): %w", requestID, werr)
	}

	if err := dedupe.Set(ctx, requestID, string(payload), dedupeTTL); err != nil {
		return fmt.Errorf("dedupe set failed (request_id=%s): %w", requestID, err)
	}

	log.Printf("processed run_agent_background successfully (request_id=%s, agent_run_id=%s)", requestID, job.AgentRunID)
	return nil
}

func pickReplyTopic(jobTopic, defaultTopic string) string {
	if t := strings.TrimSpace(jobTopic); t != "" {
		return t
	}
	return defaultTopic
}

// dlqTopicFor returns a DLQ topic name for a given reply topic. If the
// provided topic already ends with ".dlq", it is returned unchanged. This
// avoids creating topics like "responses.dlq.dlq" when callers provide a
// reply topic that already targets the DLQ.
func dlqTopicFor(replyTopic string) string {
	rt := strings.TrimSpace(replyTopic)
	if rt == "" {
		return ""
	}
	if strings.HasSuffix(rt, ".dlq") {
		return rt
	}
	return rt + ".dlq"
}

// isTransientError performs a simple heuristic on error text for transient cases.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "temporary") ||
		strings.Contains(s, "temporarily unavailable") ||
		strings.Contains(s, "transient") ||
		strings.Contains(s, "retry") ||
		strings.Contains(s, "too many requests")
}
