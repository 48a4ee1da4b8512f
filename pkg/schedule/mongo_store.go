package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

const defaultMongoCollection = "schedule_entities"

// MongoStoreConfig holds connection settings for the MongoDB-backed store.
type MongoStoreConfig struct {
	URL        string
	Database   string
	Collection string
	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration
	// OperationTimeout bounds individual operations when the caller context
	// carries no deadline.
	OperationTimeout time.Duration
}

func (c MongoStoreConfig) normalize() MongoStoreConfig {
	c.Collection = strings.TrimSpace(c.Collection)
	if c.Collection == "" {
		c.Collection = defaultMongoCollection
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	return c
}

// MongoStore persists entities as one document per id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	config     MongoStoreConfig
	log        logger.Logger

	mu     sync.RWMutex
	closed bool
}

type mongoEntityDoc struct {
	ID           string            `bson:"_id"`
	Kind         string            `bson:"kind"`
	Status       string            `bson:"status"`
	ExpireAtMs   int64             `bson:"expire_at_ms"`
	RevealAtMs   int64             `bson:"reveal_at_ms,omitempty"`
	Payload      map[string]string `bson:"payload,omitempty"`
	StatusReason string            `bson:"status_reason,omitempty"`
	UpdatedAtMs  int64             `bson:"updated_at_ms"`
}

// Cosa fa: crea lo store MongoDB con ping iniziale e timeout per operazione.
// Cosa NON fa: non crea indici o collection in anticipo.
// Esempio minimo: store, err := schedule.NewMongoStore(cfg, log)
func NewMongoStore(cfg MongoStoreConfig, log logger.Logger) (*MongoStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, scheduleError(ErrValidation, "mongodb URL is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, scheduleError(ErrValidation, "mongodb database is required")
	}
	if log == nil {
		return nil, scheduleError(ErrValidation, "logger is required")
	}
	cfg = cfg.normalize()

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "mongodb connection failed"), err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Join(scheduleError(ErrRetryable, "mongodb ping failed"), err)
	}

	log.Info("MongoDB schedule store connected", "database", cfg.Database, "collection", cfg.Collection)
	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		config:     cfg,
		log:        log,
	}, nil
}

// Get returns the entity stored under id.
func (s *MongoStore) Get(ctx context.Context, id string) (*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	var doc mongoEntityDoc
	if err := s.collection.FindOne(opCtx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
		}
		return nil, errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("reading entity %q failed", id)), err)
	}
	return decodeMongoEntity(doc), nil
}

// ListPending returns every document outside the terminal statuses.
func (s *MongoStore) ListPending(ctx context.Context) ([]*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	cursor, err := s.collection.Find(opCtx, bson.M{"status": bson.M{"$nin": terminalStatusStrings()}})
	if err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "listing pending entities failed"), err)
	}
	var docs []mongoEntityDoc
	if err := cursor.All(opCtx, &docs); err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "decoding pending entities failed"), err)
	}

	pending := make([]*Entity, 0, len(docs))
	for _, doc := range docs {
		pending = append(pending, decodeMongoEntity(doc))
	}
	return pending, nil
}

// UpdateStatus writes the new status in place. Unknown ids return ErrNotFound.
func (s *MongoStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if !status.Valid() {
		return scheduleError(ErrValidation, fmt.Sprintf("status %q is invalid", status))
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"status":        string(status),
		"status_reason": reason,
		"updated_at_ms": time.Now().UnixMilli(),
	}}
	res, err := s.collection.UpdateOne(opCtx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("updating entity %q failed", id)), err)
	}
	if res.MatchedCount == 0 {
		return scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
	}
	return nil
}

// Put upserts the entity document.
func (s *MongoStore) Put(ctx context.Context, entity *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	doc := encodeMongoEntity(entity)
	_, err := s.collection.ReplaceOne(opCtx, bson.M{"_id": entity.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("writing entity %q failed", entity.ID)), err)
	}
	return nil
}

// HealthCheck pings the primary with a short deadline.
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(healthCtx, readpref.Primary()); err != nil {
		s.log.Error("MongoDB schedule store health check failed", "error", err)
		return errors.Join(scheduleError(ErrRetryable, "mongodb health check failed"), err)
	}
	return nil
}

// Close disconnects the client. Further calls return ErrClosed.
func (s *MongoStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(disconnectCtx); err != nil {
		return errors.Join(scheduleError(ErrRetryable, "mongodb disconnect failed"), err)
	}
	return nil
}

func (s *MongoStore) ensureOpen() error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "mongodb store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return scheduleError(ErrClosed, "mongodb store is closed")
	}
	return nil
}

func (s *MongoStore) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func terminalStatusStrings() []string {
	return []string{string(StatusCompleted), string(StatusCancelled), string(StatusExpired)}
}

func encodeMongoEntity(e *Entity) mongoEntityDoc {
	return mongoEntityDoc{
		ID:           e.ID,
		Kind:         e.Kind,
		Status:       string(e.Status),
		ExpireAtMs:   toMillis(e.ExpireAt),
		RevealAtMs:   toMillis(e.RevealAt),
		Payload:      e.Payload,
		StatusReason: e.StatusReason,
		UpdatedAtMs:  toMillis(e.UpdatedAt),
	}
}

func decodeMongoEntity(doc mongoEntityDoc) *Entity {
	return &Entity{
		ID:           doc.ID,
		Kind:         doc.Kind,
		Status:       Status(doc.Status),
		ExpireAt:     fromMillis(doc.ExpireAtMs),
		RevealAt:     fromMillis(doc.RevealAtMs),
		Payload:      doc.Payload,
		StatusReason: doc.StatusReason,
		UpdatedAt:    fromMillis(doc.UpdatedAtMs),
	}
}
