package mongo

import (
	"context"
	"time"

	"github.com/robertarktes/ticketing-events/internal/adapters/rabbit"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DeadLetterArchive keeps a queryable copy of every message a listener gave up
// on. The broker's dead-letter queue holds the message itself.
type DeadLetterArchive struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewDeadLetterArchive(db *mongo.Database, logger observability.Logger) *DeadLetterArchive {
	return &DeadLetterArchive{
		coll:   db.Collection("dead_letters"),
		logger: logger,
	}
}

type DeadLetterDoc struct {
	MessageID string    `bson:"message_id"`
	Subject   string    `bson:"subject"`
	Group     string    `bson:"group"`
	Queue     string    `bson:"queue"`
	Reason    string    `bson:"reason"`
	Attempts  int       `bson:"attempts"`
	Body      string    `bson:"body"`
	FailedAt  time.Time `bson:"failed_at"`
}

func (a *DeadLetterArchive) Archive(ctx context.Context, dl rabbit.DeadLetter) error {
	doc := DeadLetterDoc{
		MessageID: dl.MessageID,
		Subject:   string(dl.Subject),
		Group:     dl.Group,
		Queue:     dl.Queue,
		Reason:    dl.Reason,
		Attempts:  dl.Attempts,
		Body:      string(dl.Body),
		FailedAt:  dl.FailedAt,
	}
	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		a.logger.WithError(err).WithField("message_id", dl.MessageID).Error("failed to archive dead letter")
		return err
	}
	return nil
}

// Recent returns the latest dead letters for a queue group, newest first.
func (a *DeadLetterArchive) Recent(ctx context.Context, group string, limit int64) ([]DeadLetterDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}}).SetLimit(limit)
	cur, err := a.coll.Find(ctx, bson.M{"group": group}, opts)
	if err != nil {
		return nil, err
	}
	var docs []DeadLetterDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
