package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nuclight.org/gatekeeper/internal/vote"
)

// MongoStore keeps active and closed votes in two collections. The unique
// index on (requester_id, chat_id) in open_votes backs duplicate detection
// across processes.
type MongoStore struct {
	client *mongo.Client
	active *mongo.Collection
	closed *mongo.Collection
}

type voteDoc struct {
	VoteID      string        `bson:"_id"`
	RequesterID int64         `bson:"requester_id"`
	ChatID      int64         `bson:"chat_id"`
	Handle      string        `bson:"handle"`
	DisplayName string        `bson:"display_name"`
	MessageID   int           `bson:"message_id"`
	CreatedAt   time.Time     `bson:"created_at"`
	ExpiresAt   time.Time     `bson:"expires_at"`
	Status      vote.Status   `bson:"status"`
	ClaimToken  string        `bson:"claim_token,omitempty"`
	ClaimedAt   *time.Time    `bson:"claimed_at,omitempty"`
	Results     *vote.Results `bson:"results,omitempty"`
	ClosedAt    *time.Time    `bson:"closed_at,omitempty"`
}

func newVoteDoc(r *vote.Record) *voteDoc {
	d := &voteDoc{
		VoteID:      r.VoteID,
		RequesterID: r.RequesterID,
		ChatID:      r.ChatID,
		Handle:      r.Handle,
		DisplayName: r.DisplayName,
		MessageID:   r.MessageID,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		Status:      r.Status,
		ClaimToken:  r.ClaimToken,
		Results:     r.Results,
	}
	if !r.ClaimedAt.IsZero() {
		t := r.ClaimedAt.UTC()
		d.ClaimedAt = &t
	}
	if !r.ClosedAt.IsZero() {
		t := r.ClosedAt.UTC()
		d.ClosedAt = &t
	}
	return d
}

func (d *voteDoc) record() *vote.Record {
	r := &vote.Record{
		VoteID:      d.VoteID,
		RequesterID: d.RequesterID,
		ChatID:      d.ChatID,
		Handle:      d.Handle,
		DisplayName: d.DisplayName,
		MessageID:   d.MessageID,
		CreatedAt:   d.CreatedAt.UTC(),
		ExpiresAt:   d.ExpiresAt.UTC(),
		Status:      d.Status,
		ClaimToken:  d.ClaimToken,
		Results:     d.Results,
	}
	if d.ClaimedAt != nil {
		r.ClaimedAt = d.ClaimedAt.UTC()
	}
	if d.ClosedAt != nil {
		r.ClosedAt = d.ClosedAt.UTC()
	}
	return r
}

func NewMongoStore(ctx context.Context, uri, dbname string) (*MongoStore, error) {
	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetMaxPoolSize(20),
	)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := cli.Database(dbname)
	return &MongoStore{
		client: cli,
		active: db.Collection("open_votes"),
		closed: db.Collection("closed_votes"),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// Migrate creates the indexes the store relies on.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.active.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "requester_id", Value: 1}, {Key: "chat_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_requester_chat"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("status_expires"),
		},
	})
	if err != nil {
		return fmt.Errorf("create open_votes indexes: %w", err)
	}

	_, err = s.closed.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "closed_at", Value: -1}},
		Options: options.Index().SetName("chat_closed_desc"),
	})
	if err != nil {
		return fmt.Errorf("create closed_votes indexes: %w", err)
	}
	return nil
}

// IsDup reports a duplicate key error.
func IsDup(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, op string) (*vote.Record, error) {
	var d voteDoc
	err := s.active.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return d.record(), nil
}

func (s *MongoStore) FindActive(ctx context.Context, requesterID, chatID int64) (*vote.Record, error) {
	return s.findOne(ctx, bson.M{"requester_id": requesterID, "chat_id": chatID}, "find active vote")
}

func (s *MongoStore) GetActive(ctx context.Context, voteID string) (*vote.Record, error) {
	return s.findOne(ctx, bson.M{"_id": voteID}, "get active vote")
}

func (s *MongoStore) InsertOpen(ctx context.Context, r *vote.Record) error {
	d := newVoteDoc(r)
	d.Status = vote.StatusOpen
	d.ClaimToken, d.ClaimedAt, d.Results, d.ClosedAt = "", nil, nil, nil

	_, err := s.active.InsertOne(ctx, d)
	if IsDup(err) {
		return vote.ErrDuplicateVote
	}
	if err != nil {
		return storeErr("insert open vote", err)
	}
	return nil
}

func (s *MongoStore) Claim(ctx context.Context, voteID, token string, at time.Time) (bool, error) {
	res, err := s.active.UpdateOne(ctx,
		bson.M{"_id": voteID, "status": vote.StatusOpen},
		bson.M{"$set": bson.M{
			"status":      vote.StatusClaimed,
			"claim_token": token,
			"claimed_at":  at.UTC(),
		}},
	)
	if err != nil {
		return false, storeErr("claim vote", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) SaveResults(ctx context.Context, voteID, token string, results *vote.Results) error {
	res, err := s.active.UpdateOne(ctx,
		bson.M{"_id": voteID, "status": vote.StatusClaimed, "claim_token": token},
		bson.M{"$set": bson.M{"results": results}},
	)
	if err != nil {
		return storeErr("save results", err)
	}
	if res.MatchedCount == 0 {
		return vote.ErrClaimLost
	}
	return nil
}

func (s *MongoStore) Release(ctx context.Context, voteID, token string) (bool, error) {
	res, err := s.active.UpdateOne(ctx,
		bson.M{
			"_id":         voteID,
			"status":      vote.StatusClaimed,
			"claim_token": token,
			"results":     bson.M{"$exists": false},
		},
		bson.M{
			"$set":   bson.M{"status": vote.StatusOpen},
			"$unset": bson.M{"claim_token": "", "claimed_at": ""},
		},
	)
	if err != nil {
		return false, storeErr("release claim", err)
	}
	return res.ModifiedCount == 1, nil
}

// Archive inserts the closed document, treating an existing one as success,
// then removes the active document and reports whether one was removed. A
// crash between the two steps leaves a claimed active row that the next
// reconciliation archives again.
func (s *MongoStore) Archive(ctx context.Context, r *vote.Record) (bool, error) {
	d := newVoteDoc(r)
	d.Status = vote.StatusClosed
	d.ClaimToken, d.ClaimedAt = "", nil
	if d.Results == nil {
		d.Results = &vote.Results{}
	}

	if _, err := s.closed.InsertOne(ctx, d); err != nil && !IsDup(err) {
		return false, storeErr("insert closed vote", err)
	}
	res, err := s.active.DeleteOne(ctx, bson.M{"_id": r.VoteID})
	if err != nil {
		return false, storeErr("delete active vote", err)
	}
	return res.DeletedCount == 1, nil
}

func chatFilter(chatID int64, filter bson.M) bson.M {
	if chatID != 0 {
		filter["chat_id"] = chatID
	}
	return filter
}

func (s *MongoStore) findMany(ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions, op string) ([]*vote.Record, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer cur.Close(ctx)

	var docs []voteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storeErr(op, err)
	}
	records := make([]*vote.Record, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].record())
	}
	return records, nil
}

func (s *MongoStore) ScanOpenExpired(ctx context.Context, chatID int64, now time.Time) ([]*vote.Record, error) {
	filter := chatFilter(chatID, bson.M{
		"status":     vote.StatusOpen,
		"expires_at": bson.M{"$lte": now.UTC()},
	})
	return s.findMany(ctx, s.active, filter,
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}), "scan expired votes")
}

func (s *MongoStore) ScanClaimed(ctx context.Context, chatID int64) ([]*vote.Record, error) {
	filter := chatFilter(chatID, bson.M{"status": vote.StatusClaimed})
	return s.findMany(ctx, s.active, filter,
		options.Find().SetSort(bson.D{{Key: "claimed_at", Value: 1}}), "scan claimed votes")
}

func (s *MongoStore) ListActive(ctx context.Context, chatID int64) ([]*vote.Record, error) {
	return s.findMany(ctx, s.active, chatFilter(chatID, bson.M{}),
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}), "list active votes")
}

func (s *MongoStore) ListClosed(ctx context.Context, chatID int64, limit int) ([]*vote.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "closed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findMany(ctx, s.closed, chatFilter(chatID, bson.M{}), opts, "list closed votes")
}
