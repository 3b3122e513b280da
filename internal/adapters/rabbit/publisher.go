package rabbit

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticketing-events/internal/events"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrPublishNacked = errors.New("rabbit: publish not confirmed by broker")

var tracer = otel.Tracer("github.com/robertarktes/ticketing-events/internal/adapters/rabbit")

// Publisher sends events to the events exchange on a confirm-mode channel.
// Publish returns only after the broker has taken responsibility for the
// message.
type Publisher struct {
	client *Client

	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(client *Client) (*Publisher, error) {
	p := &Publisher{client: client}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, payload events.Payload) error {
	body, err := events.Encode(payload)
	if err != nil {
		return err
	}
	return p.PublishRaw(ctx, payload.Subject(), body, uuid.NewString())
}

// PublishRaw publishes an already encoded envelope. messageID is carried as the
// AMQP message id so consumers and the dead-letter archive can correlate it.
func (p *Publisher) PublishRaw(ctx context.Context, subject events.Subject, body []byte, messageID string) error {
	ctx, span := tracer.Start(ctx, "publish "+string(subject),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", ExchangeEvents),
			attribute.String("messaging.rabbitmq.destination.routing_key", string(subject)),
			attribute.String("messaging.message.id", messageID),
		))
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}

	err := p.publish(ctx, subject, msg)
	if err != nil {
		observability.PublishFailures.WithLabelValues(string(subject)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	observability.EventsPublished.WithLabelValues(string(subject)).Inc()
	return nil
}

func (p *Publisher) publish(ctx context.Context, subject events.Subject, msg amqp.Publishing) error {
	p.mu.Lock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.open(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, ExchangeEvents, string(subject), false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "await confirm for %s", subject)
	}
	if !acked {
		return errors.Wrapf(ErrPublishNacked, "publish %s", subject)
	}
	return nil
}

func (p *Publisher) open() error {
	ch, err := p.client.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return errors.Wrap(err, "enable publisher confirms")
	}
	p.ch = ch
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
