package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/versioning"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrDeliveriesClosed = errors.New("rabbit: delivery channel closed")

type ListenerConfig struct {
	// Group is the queue group. Every replica of a service uses the same
	// group, so each message reaches exactly one of them.
	Group         string
	AckWait       time.Duration
	MaxDeliveries int
}

// DeadLetter describes a message the listener gave up on.
type DeadLetter struct {
	MessageID string
	Subject   events.Subject
	Group     string
	Queue     string
	Reason    string
	Attempts  int
	Body      []byte
	FailedAt  time.Time
}

type DeadLetterArchive interface {
	Archive(ctx context.Context, dl DeadLetter) error
}

// Listener consumes one subject for one queue group and acknowledges a message
// only after its handler succeeded.
type Listener struct {
	client  *Client
	binding events.Binding
	cfg     ListenerConfig
	archive DeadLetterArchive
	logger  observability.Logger
}

// NewListener builds a listener. archive may be nil.
func NewListener(client *Client, binding events.Binding, cfg ListenerConfig, archive DeadLetterArchive, logger observability.Logger) *Listener {
	return &Listener{
		client:  client,
		binding: binding,
		cfg:     cfg,
		archive: archive,
		logger: logger.WithFields(map[string]interface{}{
			"subject": string(binding.Subject),
			"group":   cfg.Group,
		}),
	}
}

func (l *Listener) Queue() string {
	return QueueName(l.cfg.Group, l.binding.Subject)
}

// Listen blocks until ctx is cancelled or the delivery stream ends. Messages
// are processed one at a time.
func (l *Listener) Listen(ctx context.Context) error {
	ch, err := l.client.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareListenerQueues(ch, l.cfg.Group, l.binding.Subject, l.cfg.AckWait); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return errors.Wrap(err, "set prefetch")
	}
	deliveries, err := ch.ConsumeWithContext(ctx, l.Queue(), "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", l.Queue())
	}

	l.logger.Info("listening")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrapf(ErrDeliveriesClosed, "queue %s", l.Queue())
			}
			l.process(ctx, ch, d)
		}
	}
}

type outcome string

const (
	outcomeAck        outcome = "ack"
	outcomeRetry      outcome = "retry"
	outcomeDeadLetter outcome = "dead_letter"
)

// decide maps a handler result onto what happens to the message. An event
// that is already reflected locally is acknowledged; one that arrived early or
// hit a transient failure is redelivered until maxDeliveries is reached.
func decide(err error, attempt, maxDeliveries int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, versioning.ErrAlreadyApplied):
		return outcomeAck
	case events.IsPermanent(err):
		return outcomeDeadLetter
	case attempt >= maxDeliveries:
		return outcomeDeadLetter
	}
	return outcomeRetry
}

func (l *Listener) process(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	queue := l.Queue()
	attempt := deliveryAttempt(d.Headers, queue)
	subject := string(l.binding.Subject)

	parent := otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	hctx, span := tracer.Start(parent, "process "+subject,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", d.MessageId),
			attribute.Int("messaging.delivery.attempt", attempt),
		))
	defer span.End()

	hctx, cancel := context.WithTimeout(hctx, l.cfg.AckWait)
	start := time.Now()
	err := l.binding.Dispatch(hctx, d.Body)
	cancel()
	observability.HandlerDuration.WithLabelValues(subject, l.cfg.Group).Observe(time.Since(start).Seconds())

	log := l.logger.WithFields(map[string]interface{}{"message_id": d.MessageId, "attempt": attempt})
	result := decide(err, attempt, l.cfg.MaxDeliveries)
	if err != nil && result != outcomeAck {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	switch result {
	case outcomeAck:
		if err != nil {
			log.WithError(err).Debug("event already applied")
		}
		if ackErr := d.Ack(false); ackErr != nil {
			log.WithError(ackErr).Error("ack failed")
		}
	case outcomeRetry:
		log.WithError(err).Warn("handler failed, message will be redelivered")
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.WithError(nackErr).Error("nack failed")
		}
	case outcomeDeadLetter:
		if dlErr := l.deadLetter(ctx, ch, d, err, attempt); dlErr != nil {
			log.WithError(dlErr).Error("dead-letter failed, message will be redelivered")
			result = outcomeRetry
			_ = d.Nack(false, false)
			break
		}
		log.WithError(err).Error("message dead-lettered")
		if ackErr := d.Ack(false); ackErr != nil {
			log.WithError(ackErr).Error("ack failed")
		}
	}
	observability.EventsConsumed.WithLabelValues(subject, l.cfg.Group, string(result)).Inc()
}

func (l *Listener) deadLetter(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, cause error, attempt int) error {
	dl := DeadLetter{
		MessageID: d.MessageId,
		Subject:   l.binding.Subject,
		Group:     l.cfg.Group,
		Queue:     l.Queue(),
		Reason:    cause.Error(),
		Attempts:  attempt,
		Body:      d.Body,
		FailedAt:  time.Now().UTC(),
	}

	err := ch.PublishWithContext(ctx, ExchangeDeadLetter, l.Queue(), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    dl.FailedAt,
		Headers: amqp.Table{
			"x-failure-reason": dl.Reason,
			"x-attempts":       int64(attempt),
			"x-origin-queue":   dl.Queue,
		},
		Body: d.Body,
	})
	if err != nil {
		return errors.Wrap(err, "publish dead letter")
	}

	if l.archive != nil {
		if err := l.archive.Archive(ctx, dl); err != nil {
			l.logger.WithError(err).Warn("archive dead letter")
		}
	}
	return nil
}

// deliveryAttempt derives the 1-based delivery attempt from the x-death
// entries the broker adds each time the message is rejected from queue.
func deliveryAttempt(headers amqp.Table, queue string) int {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 1
	}
	for _, entry := range deaths {
		death, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if q, _ := death["queue"].(string); q != queue {
			continue
		}
		if r, _ := death["reason"].(string); r != "rejected" {
			continue
		}
		switch n := death["count"].(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}
	return 1
}
