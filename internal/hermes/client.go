package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/callwatch/internal/store"
	"github.com/MikeSquared-Agency/callwatch/internal/weekly"
)

const (
	SubjectCallAnalyzed = "callwatch.call.analyzed"
	SubjectWeeklySent   = "callwatch.weekly.sent"
)

// CallAnalyzed is published after a call card has been delivered.
type CallAnalyzed struct {
	RecordID  string    `json:"record_id"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"ts"`
	Duration  int       `json:"duration"`
	Tag       string    `json:"tag"`
	Score     int       `json:"score"`
	Trust     int       `json:"trust"`
	Accepted  bool      `json:"accepted"`
}

// WeeklySent is published after the scheduled weekly report went out.
type WeeklySent struct {
	WeekKey   string    `json:"week_key"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Calls     int       `json:"calls"`
	MeanScore float64   `json:"mean_score"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

type Client struct {
	conn   *nats.Conn
	pub    publisher
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("callwatch"),
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

	return &Client{conn: nc, pub: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.pub.Publish(subject, payload)
}

// PublishCallAnalyzed announces one delivered call report.
func (c *Client) PublishCallAnalyzed(_ context.Context, rec store.Record) error {
	return c.Publish(SubjectCallAnalyzed, CallAnalyzed{
		RecordID:  rec.ID.String(),
		CallID:    rec.CallID,
		Timestamp: rec.TS,
		Duration:  rec.Duration,
		Tag:       rec.Tag,
		Score:     rec.Score,
		Trust:     rec.Trust.Overall,
		Accepted:  rec.Accepted,
	})
}

// PublishWeeklySent announces a delivered weekly report.
func (c *Client) PublishWeeklySent(_ context.Context, s weekly.Summary) error {
	return c.Publish(SubjectWeeklySent, WeeklySent{
		WeekKey:   s.WeekKey,
		From:      s.From,
		To:        s.To,
		Calls:     s.Count,
		MeanScore: s.MeanScore,
	})
}

// Subscribe is used by downstream tooling and the integration tests.
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
	if c.conn != nil {
		c.conn.Close()
	}
}
