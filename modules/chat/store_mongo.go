package chat

import (
	"context"
	"fmt"
	"time"

	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "messages"

// messageDocument is the MongoDB document of a message. Seq is an ObjectID
// generated on insert and breaks timestamp ties in insertion order.
type messageDocument struct {
	ID        string             `bson:"_id"`
	Seq       primitive.ObjectID `bson:"seq"`
	ProjectID string             `bson:"project_id"`
	Author    string             `bson:"user"`
	Body      string             `bson:"message"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d *messageDocument) toDomain() domain.Message {
	return domain.Message{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Author:    d.Author,
		Body:      d.Body,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// MongoStore is the MongoDB message store.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// OpenMongoStore connects to uri and prepares the messages collection of
// database.
func OpenMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	store, err := NewMongoStore(connectCtx, client, client.Database(database).Collection(messagesCollection))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewMongoStore wraps coll and ensures its project/time index.
func NewMongoStore(ctx context.Context, client *mongo.Client, coll *mongo.Collection) (*MongoStore, error) {
	ix := mongo.IndexModel{
		Keys: bson.D{
			{Key: "project_id", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		},
		Options: options.Index().SetName("project_created_idx"),
	}
	if _, err := coll.Indexes().CreateOne(ctx, ix); err != nil {
		return nil, fmt.Errorf("failed to create messages index: %w", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

// Save inserts a message.
func (s *MongoStore) Save(ctx context.Context, msg *domain.Message) error {
	doc := messageDocument{
		ID:        msg.ID,
		Seq:       primitive.NewObjectID(),
		ProjectID: msg.ProjectID,
		Author:    msg.Author,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Recent returns the newest limit messages of a project, oldest first.
func (s *MongoStore) Recent(ctx context.Context, projectID string, limit int) ([]domain.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(limit))
	docs, err := s.find(ctx, bson.M{"project_id": projectID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	out := make([]domain.Message, len(docs))
	for i := range docs {
		out[len(docs)-1-i] = docs[i].toDomain()
	}
	return out, nil
}

// After returns up to limit messages strictly newer than after, oldest first.
func (s *MongoStore) After(ctx context.Context, projectID string, after time.Time, limit int) ([]domain.Message, error) {
	filter := bson.M{
		"project_id": projectID,
		"created_at": bson.M{"$gt": after},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}).
		SetLimit(int64(limit))
	docs, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages after %s: %w", after.Format(time.RFC3339Nano), err)
	}

	out := make([]domain.Message, len(docs))
	for i := range docs {
		out[i] = docs[i].toDomain()
	}
	return out, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]messageDocument, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	docs := []messageDocument{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Driver names the backing database.
func (s *MongoStore) Driver() string {
	return "mongo"
}
