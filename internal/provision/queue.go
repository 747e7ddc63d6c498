package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName         = "TEAM_PROVISION"
	subjectUserCreated = "provision.user.created"
	consumerName       = "team-provisioner"

	consumerMaxDeliver = 5
	consumerAckWait    = 30 * time.Second
	dedupeWindow       = 10 * time.Minute
)

// ConnectQueue dials NATS and ensures the provisioning stream exists.
func ConnectQueue(ctx context.Context, natsURL string, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectUserCreated},
		Duplicates: dedupeWindow,
	}); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream: %w", err)
	}
	return nc, js, nil
}

// Publisher emits one UserCreated job per created user. The message ID is
// derived from the user id so JetStream dedupes accidental double publishes.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) PublishUserCreated(ctx context.Context, job UserCreated) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = p.js.Publish(ctx, subjectUserCreated, body,
		jetstream.WithMsgID(fmt.Sprintf("user-created-%d", job.UserID)))
	if err != nil {
		return fmt.Errorf("publish user created: %w", err)
	}
	return nil
}

// RosterCreator is what the consumer needs from the provisioner.
type RosterCreator interface {
	Provision(ctx context.Context, job UserCreated) (int64, error)
}

// Consumer drains provisioning jobs with at-least-once semantics.
type Consumer struct {
	js          jetstream.JetStream
	provisioner RosterCreator
	log         *slog.Logger
}

func NewConsumer(js jetstream.JetStream, provisioner RosterCreator, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{js: js, provisioner: provisioner, log: logger}
}

// Run consumes jobs until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: subjectUserCreated,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    consumerMaxDeliver,
		AckWait:       consumerAckWait,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	c.log.Info("provisioner consumer started", "stream", streamName, "consumer", consumerName)
	<-ctx.Done()
	c.log.Info("provisioner consumer shutting down")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	var job UserCreated
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		c.log.Error("malformed provisioning job, terminating", "err", err)
		_ = msg.Term()
		return
	}

	teamID, err := c.provisioner.Provision(ctx, job)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrAlreadyProvisioned):
		// Redelivery after a successful commit; not an error, or the queue
		// would loop forever.
		c.log.Info("job redelivered for provisioned team", "user_id", job.UserID, "team_id", teamID)
		_ = msg.Ack()
	case errors.Is(err, ErrNameCollision):
		c.log.Error("team name collision, manual intervention required", "user_id", job.UserID, "err", err)
		_ = msg.Term()
	default:
		c.log.Error("provisioning failed, will retry", "user_id", job.UserID, "err", err)
		_ = msg.Nak()
	}
}
