// Package commandintake consumes Task-submission commands from Kafka and
// hands them to the Task Supervisor, publishing the admitted Task ID (or a
// rejection) back to a response topic. It is the Kafka-transport analogue
// of the (out-of-scope) HTTP submit endpoint, grounded on the same
// consumer-loop shape as internal/orchestrator's command handler.
package commandintake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"litqa/internal/model"
)

// SubmitCommand is the inbound message shape: a single natural-language
// question to run through the pipeline.
type SubmitCommand struct {
	Query string `json:"query"`
}

// SubmitResult is published once a command has been admitted or rejected.
type SubmitResult struct {
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Submitter is the narrow supervisor.Supervisor surface this package needs.
type Submitter interface {
	Submit(query string) (*model.Task, error)
}

// Producer abstracts the Kafka writer used to publish SubmitResults.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer reads SubmitCommands from a Kafka topic and drives Submitter.
type Consumer struct {
	reader        *kafka.Reader
	producer      Producer
	responseTopic string
	submitter     Submitter
}

// New builds a Consumer. Submit itself is non-blocking (it only admits and
// backgrounds the pipeline run), so a single reader goroutine is enough;
// unlike a workflow-executing consumer, there is no need for a worker pool
// here.
func New(reader *kafka.Reader, producer Producer, responseTopic string, submitter Submitter) *Consumer {
	return &Consumer{reader: reader, producer: producer, responseTopic: responseTopic, submitter: submitter}
}

// Run reads commands until ctx is cancelled or the reader is closed by the
// caller. A single malformed or rejected command is logged and skipped;
// it never terminates the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var cmd SubmitCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		log.Warn().Err(err).Msg("commandintake: malformed submit command, skipping")
		c.respond(ctx, msg.Key, SubmitResult{Error: "malformed command"})
		return
	}

	task, err := c.submitter.Submit(cmd.Query)
	if err != nil {
		log.Warn().Err(err).Msg("commandintake: submit rejected")
		c.respond(ctx, msg.Key, SubmitResult{Error: err.Error()})
		return
	}
	c.respond(ctx, msg.Key, SubmitResult{TaskID: task.ID})
}

func (c *Consumer) respond(ctx context.Context, key []byte, result SubmitResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("commandintake: marshal submit result")
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.producer.WriteMessages(pubCtx, kafka.Message{Topic: c.responseTopic, Key: key, Value: payload}); err != nil {
		log.Warn().Err(err).Msg("commandintake: publish submit result failed")
	}
}
