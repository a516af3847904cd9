package mongosafety

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Storage keeps alerts, trips and user profiles as documents. Each entity
// is one document, so an update is a single versioned ReplaceOne.
type Storage struct {
	client   *mongo.Client
	alerts   *mongo.Collection
	trips    *mongo.Collection
	users    *mongo.Collection
	ownsConn bool
}

func New(ctx context.Context, uri, dbName string) (*Storage, error) {
	if dbName == "" {
		dbName = "safezone"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}

	s := NewWithDatabase(client.Database(dbName))
	s.client = client
	s.ownsConn = true
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewWithDatabase wraps an existing database handle. The caller keeps
// ownership of the client.
func NewWithDatabase(db *mongo.Database) *Storage {
	return &Storage{
		client: db.Client(),
		alerts: db.Collection("alerts"),
		trips:  db.Collection("trips"),
		users:  db.Collection("users"),
	}
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.alerts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "alerts index")
	}
	_, err = s.trips.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expectedEndTime", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "startTime", Value: -1}}},
	})
	return errors.Wrap(err, "trips index")
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx, nil), "mongo ping")
}

func (s *Storage) Close() {
	if s.ownsConn && s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.Disconnect(ctx)
	}
}
