package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TicketCatalog is the read model behind ticket listings. The tickets service
// upserts a document after every committed ticket change; a document only
// moves forward in version.
type TicketCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewTicketCatalog(db *mongo.Database, logger observability.Logger) *TicketCatalog {
	return &TicketCatalog{
		coll:   db.Collection("ticket_catalog"),
		logger: logger,
	}
}

type TicketDoc struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Price     float64   `bson:"price"`
	UserID    string    `bson:"user_id"`
	Available bool      `bson:"available"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *TicketCatalog) Upsert(ctx context.Context, t domain.Ticket) error {
	doc := TicketDoc{
		ID:        t.ID.String(),
		Title:     t.Title,
		Price:     t.Price,
		UserID:    t.UserID.String(),
		Available: !t.Reserved(),
		Version:   t.Version,
		UpdatedAt: time.Now().UTC(),
	}
	// A stale write matches nothing and then collides with the existing _id.
	filter := bson.M{"_id": doc.ID, "version": bson.M{"$lte": doc.Version}}
	_, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		c.logger.WithError(err).WithField("ticket_id", doc.ID).Error("failed to upsert catalog ticket")
		return err
	}
	return nil
}

func (c *TicketCatalog) ListAvailable(ctx context.Context) ([]domain.Ticket, error) {
	cur, err := c.coll.Find(ctx, bson.M{"available": true}, options.Find().SetSort(bson.D{{Key: "title", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []TicketDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	tickets := make([]domain.Ticket, 0, len(docs))
	for _, doc := range docs {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog ticket %q", doc.ID)
		}
		userID, err := uuid.Parse(doc.UserID)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog ticket %q owner", doc.ID)
		}
		tickets = append(tickets, domain.Ticket{
			ID:      id,
			Title:   doc.Title,
			Price:   doc.Price,
			UserID:  userID,
			Version: doc.Version,
		})
	}
	return tickets, nil
}
