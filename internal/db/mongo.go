package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var errNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoJournalCollection wraps a MongoDB collection holding dispatch events.
type MongoJournalCollection struct {
	Collection *mongo.Collection
}

// InsertEvent appends one event.
func (c *MongoJournalCollection) InsertEvent(ctx context.Context, ev models.DispatchEvent) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, ev)
	return err
}

// mongoEventCursor wraps a MongoDB cursor for journal queries.
type mongoEventCursor struct {
	cursor *mongo.Cursor
}

func (m *mongoEventCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

func (m *mongoEventCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}

// FindEvents queries journal entries.
func (c *MongoJournalCollection) FindEvents(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (EventCursor, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoEventCursor{cursor: cursor}, nil
}

// EnsureIndexes creates the indexes the journal queries rely on.
func (c *MongoJournalCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "at", Value: -1}}},
		{Keys: bson.D{{Key: "incident_id", Value: 1}, {Key: "at", Value: -1}}},
	})
	return err
}

// JournalFilter narrows a journal listing.
type JournalFilter struct {
	IncidentID  models.ID
	AmbulanceID models.ID
	Since       time.Time
	Limit       int64
}

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// Journal records dispatch events and reads them back as incident history.
type Journal struct {
	coll JournalCollection
	log  logrus.FieldLogger
}

// NewJournal wraps coll. A nil log uses the standard logger.
func NewJournal(coll JournalCollection, log logrus.FieldLogger) *Journal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{coll: coll, log: log}
}

// Record appends ev to the journal.
func (j *Journal) Record(ctx context.Context, ev models.DispatchEvent) error {
	if err := j.coll.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.Kind, err)
	}
	j.log.WithFields(logrus.Fields{
		"kind":         ev.Kind,
		"incident_id":  ev.IncidentID,
		"ambulance_id": ev.AmbulanceID,
	}).Debug("Dispatch event recorded")
	return nil
}

// List returns matching events, newest first.
func (j *Journal) List(ctx context.Context, f JournalFilter) ([]models.DispatchEvent, error) {
	filter := bson.M{}
	if f.IncidentID != "" {
		filter["incident_id"] = f.IncidentID
	}
	if f.AmbulanceID != "" {
		filter["ambulance_id"] = f.AmbulanceID
	}
	if !f.Since.IsZero() {
		filter["at"] = bson.M{"$gte": f.Since}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(limit)

	cursor, err := j.coll.FindEvents(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer cursor.Close(ctx)

	events := []models.DispatchEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode journal: %w", err)
	}
	return events, nil
}
