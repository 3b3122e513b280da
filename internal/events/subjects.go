// Package events defines the cross-service event contract: the closed set of
// subjects, one payload type per subject, and the JSON envelope they travel in.
package events

type Subject string

const (
	TicketCreated      Subject = "ticket:created"
	TicketUpdated      Subject = "ticket:updated"
	OrderCreated       Subject = "order:created"
	OrderCancelled     Subject = "order:cancelled"
	OrderUpdated       Subject = "order:updated"
	ExpirationComplete Subject = "expiration:complete"
	PaymentCreated     Subject = "payment:created"
)

var subjects = []Subject{
	TicketCreated,
	TicketUpdated,
	OrderCreated,
	OrderCancelled,
	OrderUpdated,
	ExpirationComplete,
	PaymentCreated,
}

func Subjects() []Subject {
	out := make([]Subject, len(subjects))
	copy(out, subjects)
	return out
}

func (s Subject) Valid() bool {
	for _, known := range subjects {
		if s == known {
			return true
		}
	}
	return false
}

func (s Subject) String() string {
	return string(s)
}
