package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultPollInterval = 20 * time.Second

// ConnectMongo connects to MongoDB at uri. A missing or malformed URI and
// rejected credentials are returned as syncerr.ConfigurationError. An
// unreachable server is only logged: the service starts offline and the
// driver keeps trying in the background.
func ConnectMongo(uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, &syncerr.ConfigurationError{Setting: "MONGO_URI", Err: errors.New("not set")}
	}
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &syncerr.ConfigurationError{Setting: "MONGO_URI", Err: fmt.Errorf("mongo.Connect error: %w", err)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		if isAuthError(err) {
			_ = client.Disconnect(context.Background())
			return nil, &syncerr.ConfigurationError{Setting: "MONGO_URI", Err: fmt.Errorf("mongo.Ping error: %w", err)}
		}
		log.WithError(err).Warn("MongoDB unreachable at startup, starting offline")
	}
	return client, nil
}

// MongoStore implements RemoteStore on a MongoDB database.
type MongoStore struct {
	Database *mongo.Database
	// PollInterval drives subscriptions when change streams are not
	// available (standalone servers).
	PollInterval time.Duration
	Now          func() time.Time
}

// NewMongoStore creates a store on the named database.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{
		Database:     client.Database(dbName),
		PollInterval: defaultPollInterval,
		Now:          time.Now,
	}
}

func (s *MongoStore) collection(name string) (*mongo.Collection, error) {
	if s.Database == nil {
		return nil, syncerr.Transient("collection "+name, fmt.Errorf("mongo database is nil"))
	}
	return s.Database.Collection(name), nil
}

func (s *MongoStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Ping checks that the server is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.Database == nil {
		return syncerr.Transient("ping", fmt.Errorf("mongo database is nil"))
	}
	return classify("ping", s.Database.Client().Ping(ctx, nil))
}

// Get decodes the document with the given id into out.
func (s *MongoStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	op := "get " + collection + "/" + id
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	err = c.FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return syncerr.Permanent(op, "not found", ErrNotFound)
	}
	return classify(op, err)
}

// List decodes all documents matching filter into out, which must be a
// pointer to a slice.
func (s *MongoStore) List(ctx context.Context, collection string, filter bson.M, out interface{}) error {
	op := "list " + collection
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if filter == nil {
		filter = bson.M{}
	}
	cursor, err := c.Find(ctx, filter)
	if err != nil {
		return classify(op, err)
	}
	defer cursor.Close(ctx)
	return classify(op, cursor.All(ctx, out))
}

// Put creates or fully replaces a document.
func (s *MongoStore) Put(ctx context.Context, collection, id string, doc interface{}) error {
	op := "put " + collection + "/" + id
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	_, err = c.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return classify(op, err)
}

// Update merges fields into an existing document.
func (s *MongoStore) Update(ctx context.Context, collection, id string, fields bson.M) error {
	op := "update " + collection + "/" + id
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return syncerr.Permanent(op, "empty update", nil)
	}
	result, err := c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return classify(op, err)
	}
	if result.MatchedCount == 0 {
		return syncerr.Permanent(op, "not found", ErrNotFound)
	}
	return nil
}

// Delete marks a document retired.
func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	op := "delete " + collection + "/" + id
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	result, err := c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     models.AssetRetired,
		"updated_at": s.now(),
	}})
	if err != nil {
		return classify(op, err)
	}
	if result.MatchedCount == 0 {
		return syncerr.Permanent(op, "not found", ErrNotFound)
	}
	return nil
}

// Subscribe pushes the current result list immediately, then again after
// every change to the collection. Change streams are used when the server
// supports them; otherwise the collection is polled.
func (s *MongoStore) Subscribe(ctx context.Context, collection string, filter bson.M, onChange func([]bson.Raw)) (func(), error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	push := func() error {
		var docs []bson.Raw
		if err := s.List(subCtx, collection, filter, &docs); err != nil {
			return err
		}
		onChange(docs)
		return nil
	}
	if err := push(); err != nil {
		cancel()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.follow(subCtx, c, push)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (s *MongoStore) follow(ctx context.Context, c *mongo.Collection, push func() error) {
	logger := log.WithField("collection", c.Name())
	for ctx.Err() == nil {
		stream, err := c.Watch(ctx, mongo.Pipeline{})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Debug("Change stream unavailable, polling")
			s.poll(ctx, push)
			return
		}
		for stream.Next(ctx) {
			if err := push(); err != nil {
				logger.WithError(err).Warn("Failed to refresh subscription")
			}
		}
		err = stream.Err()
		stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("Change stream interrupted, resuming")
		if !sleep(ctx, s.pollInterval()) {
			return
		}
	}
}

func (s *MongoStore) poll(ctx context.Context, push func() error) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := push(); err != nil {
				log.WithError(err).Debug("Subscription poll failed")
			}
		}
	}
}

func (s *MongoStore) pollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return defaultPollInterval
	}
	return s.PollInterval
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
