package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

var _ Store = (*MongoStore)(nil)

// casAttempts bounds read-modify-write retries when a concurrent claim or
// edit changes the document between the read and the replace.
const casAttempts = 3

// MongoStore stores schedules in a MongoDB collection. Claims are a single
// conditional FindOneAndUpdate, so several exportd processes may share it.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// MongoOptions configures a MongoStore.
type MongoOptions struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// NewMongoStore connects to MongoDB and ensures the due-scan index exists.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("mongo connection URI is empty")
	}
	if opts.Collection == "" {
		opts.Collection = "export_schedules"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	clientOpts := options.Client().ApplyURI(opts.URI).
		SetMaxPoolSize(20).
		SetConnectTimeout(opts.ConnectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := NewMongoStoreFromCollection(client, client.Database(opts.Database).Collection(opts.Collection))
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewMongoStoreFromCollection wraps an existing collection. client may be nil,
// in which case Close does not disconnect.
func NewMongoStoreFromCollection(client *mongo.Client, coll *mongo.Collection) *MongoStore {
	return &MongoStore{client: client, coll: coll}
}

// EnsureIndexes creates the index used by ListDue.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_run", Value: 1}},
		Options: options.Index().SetName("status_next_run"),
	})
	if err != nil {
		return fmt.Errorf("failed to create schedule index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Create stores a new schedule.
func (s *MongoStore) Create(ctx context.Context, sched *models.Schedule) error {
	_, err := s.coll.InsertOne(ctx, sched)
	if mongo.IsDuplicateKeyError(err) {
		return models.ErrScheduleExists
	}
	return err
}

// Update applies an edit under a version check.
func (s *MongoStore) Update(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		stored, err := s.Load(ctx, sched.ID)
		if err != nil {
			return nil, err
		}
		if stored.Version != sched.Version {
			return nil, models.ErrVersionConflict
		}

		filter := casFilter(stored)
		stored.ApplyEdit(sched)

		ok, err := s.replace(ctx, filter, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			return stored, nil
		}
	}
	return nil, models.ErrVersionConflict
}

// Load retrieves a schedule by ID.
func (s *MongoStore) Load(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&sched)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// Delete deletes a schedule by ID.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.ErrScheduleNotFound
	}
	return nil
}

// List returns all schedules ordered by name.
func (s *MongoStore) List(ctx context.Context) ([]*models.Schedule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, bson.M{}, opts)
}

// ListDue returns active schedules due at now, ordered by next run.
func (s *MongoStore) ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	filter := bson.M{
		"status":   models.StatusActive,
		"next_run": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "next_run", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, filter, opts)
}

// Claim sets the processing token with one conditional update: the schedule
// must be active, due, and either idle or holding a claim older than lease.
func (s *MongoStore) Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (*models.Schedule, models.ClaimOutcome, error) {
	filter := bson.M{
		"_id":      id,
		"status":   models.StatusActive,
		"next_run": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"processing_token": ""},
			bson.M{"processing_token": bson.M{"$exists": false}},
			bson.M{"claimed_at": bson.M{"$lte": now.Add(-lease)}},
			bson.M{"claimed_at": bson.M{"$exists": false}},
		},
	}
	update := bson.M{"$set": bson.M{"processing_token": token, "claimed_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before models.Schedule
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, lerr := s.Load(ctx, id)
		if lerr != nil {
			return nil, models.ClaimNotDue, lerr
		}
		outcome := current.CheckClaim(now, lease)
		if outcome.Held() {
			// The document changed between the update and the read.
			outcome = models.ClaimContended
		}
		return nil, outcome, nil
	}
	if err != nil {
		return nil, models.ClaimNotDue, err
	}

	outcome := models.ClaimAcquired
	if before.IsClaimed() {
		outcome = models.ClaimReclaimed
	}
	before.Claim(token, now)
	return &before, outcome, nil
}

// CommitResult writes an attempt's outcome and releases the claim.
func (s *MongoStore) CommitResult(ctx context.Context, id, token string, c models.Commit) (*models.Schedule, error) {
	if token == "" {
		return nil, models.ErrClaimLost
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		stored, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if stored.ProcessingToken != token {
			return nil, models.ErrClaimLost
		}

		filter := casFilter(stored)
		stored.Apply(c)

		ok, err := s.replace(ctx, filter, stored)
		if err != nil {
			return nil, err
		}
		if ok {
			return stored, nil
		}
	}
	return nil, models.ErrClaimLost
}

// casFilter matches the document only while it still has the version and
// claim marker that were read.
func casFilter(stored *models.Schedule) bson.M {
	return bson.M{
		"_id":              stored.ID,
		"version":          stored.Version,
		"processing_token": stored.ProcessingToken,
	}
}

func (s *MongoStore) replace(ctx context.Context, filter bson.M, sched *models.Schedule) (bool, error) {
	res, err := s.coll.ReplaceOne(ctx, filter, sched)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Schedule, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*models.Schedule
	for cursor.Next(ctx) {
		var sched models.Schedule
		if err := cursor.Decode(&sched); err != nil {
			return nil, err
		}
		result = append(result, &sched)
	}
	return result, cursor.Err()
}
