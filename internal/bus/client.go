package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectTranscriptSegmented is published by the extraction collaborator once
// a transcript has been split into ordered utterances.
const SubjectTranscriptSegmented = "swarm.quill.transcript.segmented"

// SubjectAnalysisCompleted is emitted when a full analysis run finishes,
// carrying per-question coverage so downstream reporting can pick up results.
const SubjectAnalysisCompleted = "swarm.quill.analysis.completed"

// TranscriptSegmented is the inbound ingestion event payload.
type TranscriptSegmented struct {
	TranscriptID string   `json:"transcript_id"`
	Utterances   []string `json:"utterances"`
}

// QuestionCoverage summarises one question's ranking provenance.
type QuestionCoverage struct {
	QuestionID           string `json:"question_id"`
	CandidatesConsidered int    `json:"candidates_considered"`
	OracleRanked         int    `json:"oracle_ranked"`
	OracleFallback       int    `json:"oracle_fallback"`
	BatchesAttempted     int    `json:"batches_attempted"`
	BatchesFailed        int    `json:"batches_failed"`
}

// AnalysisCompleted is the outbound run-summary event payload.
type AnalysisCompleted struct {
	RunID     string             `json:"run_id"`
	Questions []QuestionCoverage `json:"questions"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
