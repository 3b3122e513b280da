package rabbit

import (
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticketing-events/internal/events"
)

const (
	ExchangeEvents     = "ticketing.events"
	ExchangeDeadLetter = "ticketing.dead-letter"
	QueueDeadLetters   = "ticketing.dead-letters"
)

// QueueName is the durable queue shared by every member of group for subject.
func QueueName(group string, subject events.Subject) string {
	return group + "." + string(subject)
}

func RetryQueueName(group string, subject events.Subject) string {
	return QueueName(group, subject) + ".retry"
}

func declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open topology channel")
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare %s", ExchangeEvents)
	}
	if err := ch.ExchangeDeclare(ExchangeDeadLetter, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare %s", ExchangeDeadLetter)
	}
	if _, err := ch.QueueDeclare(QueueDeadLetters, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare %s", QueueDeadLetters)
	}
	if err := ch.QueueBind(QueueDeadLetters, "#", ExchangeDeadLetter, false, nil); err != nil {
		return errors.Wrapf(err, "bind %s", QueueDeadLetters)
	}
	return nil
}

// declareListenerQueues sets up the main queue and its retry queue. A message
// rejected on the main queue is dead-lettered into the retry queue, sits there
// for ackWait and is dead-lettered back, which is how an unacknowledged
// message comes back after the ack-wait window.
func declareListenerQueues(ch *amqp.Channel, group string, subject events.Subject, ackWait time.Duration) error {
	main := QueueName(group, subject)
	retry := RetryQueueName(group, subject)

	_, err := ch.QueueDeclare(main, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": retry,
	})
	if err != nil {
		return errors.Wrapf(err, "declare %s", main)
	}
	_, err = ch.QueueDeclare(retry, true, false, false, false, amqp.Table{
		"x-message-ttl":             ackWait.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": main,
	})
	if err != nil {
		return errors.Wrapf(err, "declare %s", retry)
	}
	if err := ch.QueueBind(main, string(subject), ExchangeEvents, false, nil); err != nil {
		return errors.Wrapf(err, "bind %s", main)
	}
	return nil
}

type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
