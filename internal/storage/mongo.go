package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

// Mongo is a Ledger backed by a MongoDB collection keyed by DID.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to uri and verifies the connection quickly.
func NewMongo(ctx context.Context, uri, dbName, collName string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Mongo{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

// Ping reports connectivity to the primary.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Register upserts the document under its DID.
func (m *Mongo) Register(ctx context.Context, did, documentJSON string) (model.LedgerReceipt, error) {
	txRef := uuid.NewString()
	now := time.Now().UTC()
	_, err := m.coll.UpdateByID(ctx, did,
		bson.M{
			"$set": bson.M{
				"document":    documentJSON,
				"txRef":       txRef,
				"committedAt": now,
			},
			"$setOnInsert": bson.M{
				"createdAt": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return model.LedgerReceipt{}, fmt.Errorf("mongo register: %w", err)
	}
	return model.LedgerReceipt{Committed: true, TxRef: txRef}, nil
}

// Resolve returns the stored document or ErrNotFound.
func (m *Mongo) Resolve(ctx context.Context, did string) (string, error) {
	var out struct {
		Document string `bson:"document"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": did}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("mongo resolve: %w", err)
	}
	return out.Document, nil
}
