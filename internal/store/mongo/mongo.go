// Package mongo implements store.Store on MongoDB, the document store the
// companion was first deployed on.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

var _ store.Store = (*Store)(nil)

const (
	sessionsCollection = "chats"
	factsCollection    = "memories"
)

type turnDoc struct {
	Speaker    string    `bson:"speaker"`
	Text       string    `bson:"text"`
	OccurredAt time.Time `bson:"occurredAt"`
}

type sessionDoc struct {
	VisitorToken string    `bson:"visitorToken"`
	LockedName   *string   `bson:"lockedName"`
	Transcript   []turnDoc `bson:"transcript"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

type factDoc struct {
	ID        string    `bson:"_id"`
	OwnerName string    `bson:"ownerName"`
	Content   string    `bson:"content"`
	IsPrivate bool      `bson:"isPrivate"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Store keeps sessions and facts in two collections.
type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	facts    *mongo.Collection
	now      func() time.Time
}

// Open connects to uri, selects database and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(45 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		sessions: db.Collection(sessionsCollection),
		facts:    db.Collection(factsCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "visitorToken", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index sessions: %w", err)
	}

	// Lookup index only; (ownerName, content) is deliberately not unique.
	_, err = s.facts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerName", Value: 1}, {Key: "content", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to index facts: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// FindSession retrieves a session by token.
func (s *Store) FindSession(ctx context.Context, token string) (*chat.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.D{{Key: "visitorToken", Value: token}}).Decode(&doc)
	return decodeSession(doc, err)
}

// UpsertSession replaces the transcript. The update is a pipeline so that
// lockedName and createdAt keep their stored value when present.
func (s *Store) UpsertSession(ctx context.Context, token string, transcript []chat.Turn, lockedName string) (*chat.Session, error) {
	now := s.now()

	var name any
	if lockedName != "" {
		name = lockedName
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			// $literal keeps visitor text starting with "$" from being read as a field path.
			{Key: "transcript", Value: bson.D{{Key: "$literal", Value: encodeTurns(transcript)}}},
			{Key: "lockedName", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$lockedName", name}}}},
			{Key: "createdAt", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$createdAt", now}}}},
			{Key: "updatedAt", Value: now},
		}}},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx, bson.D{{Key: "visitorToken", Value: token}}, update, opts).Decode(&doc)
	return decodeSession(doc, err)
}

// AppendTurn pushes a turn onto an existing transcript.
func (s *Store) AppendTurn(ctx context.Context, token string, turn chat.Turn) (*chat.Session, error) {
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "transcript", Value: encodeTurn(turn)}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: s.now()}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx, bson.D{{Key: "visitorToken", Value: token}}, update, opts).Decode(&doc)
	return decodeSession(doc, err)
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "visitorToken", Value: token}}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// FindFacts returns matching facts in natural order.
func (s *Store) FindFacts(ctx context.Context, filter store.FactFilter) ([]memory.Fact, error) {
	query := bson.D{{Key: "ownerName", Value: filter.Owner}}
	if !filter.IncludePrivate {
		query = append(query, bson.E{Key: "isPrivate", Value: false})
	}
	if filter.Content != nil {
		query = append(query, bson.E{Key: "content", Value: *filter.Content})
	}

	cursor, err := s.facts.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []factDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode facts: %w", err)
	}

	facts := make([]memory.Fact, 0, len(docs))
	for _, d := range docs {
		facts = append(facts, memory.Fact{
			ID:        d.ID,
			OwnerName: d.OwnerName,
			Content:   d.Content,
			IsPrivate: d.IsPrivate,
			CreatedAt: d.CreatedAt,
		})
	}
	return facts, nil
}

// FactExists checks for an exact (owner, content) match.
func (s *Store) FactExists(ctx context.Context, owner, content string) (bool, error) {
	n, err := s.facts.CountDocuments(ctx,
		bson.D{{Key: "ownerName", Value: owner}, {Key: "content", Value: content}},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check fact: %w", err)
	}
	return n > 0, nil
}

// InsertFact stores a fact.
func (s *Store) InsertFact(ctx context.Context, f memory.Fact) error {
	_, err := s.facts.InsertOne(ctx, factDoc{
		ID:        f.ID,
		OwnerName: f.OwnerName,
		Content:   f.Content,
		IsPrivate: f.IsPrivate,
		CreatedAt: f.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	return nil
}

func decodeSession(doc sessionDoc, err error) (*chat.Session, error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session := &chat.Session{
		VisitorToken: doc.VisitorToken,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		Transcript:   make([]chat.Turn, 0, len(doc.Transcript)),
	}
	if doc.LockedName != nil {
		session.LockedName = *doc.LockedName
	}
	for _, t := range doc.Transcript {
		session.Transcript = append(session.Transcript, chat.Turn{
			Speaker:    chat.Speaker(t.Speaker),
			Text:       t.Text,
			OccurredAt: t.OccurredAt,
		})
	}
	return session, nil
}

func encodeTurns(turns []chat.Turn) []turnDoc {
	docs := make([]turnDoc, 0, len(turns))
	for _, t := range turns {
		docs = append(docs, encodeTurn(t))
	}
	return docs
}

func encodeTurn(t chat.Turn) turnDoc {
	return turnDoc{Speaker: string(t.Speaker), Text: t.Text, OccurredAt: t.OccurredAt}
}
