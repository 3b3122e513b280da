package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records saga steps a service performed. Writes are best effort:
// the authoritative state lives in CockroachDB.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		UserID:    userID.String(),
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogOrder(ctx context.Context, action string, order domain.Order) error {
	data := map[string]interface{}{
		"order_id":   order.ID.String(),
		"ticket_id":  order.TicketID.String(),
		"status":     string(order.Status),
		"version":    order.Version,
		"price":      order.Price,
		"expires_at": order.ExpiresAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, action, order.UserID, data)
}

func (a *AuditLogger) LogPayment(ctx context.Context, payment domain.Payment, userID uuid.UUID) error {
	data := map[string]interface{}{
		"payment_id": payment.ID.String(),
		"order_id":   payment.OrderID.String(),
		"charge_id":  payment.ChargeID,
	}
	return a.LogEvent(ctx, "payment.created", userID, data)
}

func (a *AuditLogger) LogTicket(ctx context.Context, action string, ticket domain.Ticket) error {
	data := map[string]interface{}{
		"ticket_id": ticket.ID.String(),
		"title":     ticket.Title,
		"price":     ticket.Price,
		"version":   ticket.Version,
	}
	if ticket.OrderID != nil {
		data["order_id"] = ticket.OrderID.String()
	}
	return a.LogEvent(ctx, action, ticket.UserID, data)
}
