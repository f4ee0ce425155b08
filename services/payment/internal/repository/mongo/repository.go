package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/GoFoodTech/platform/events"
	"github.com/shestoi/GoFoodTech/services/payment/internal/repository"
)

const (
	paymentsCollection = "payments"
	outboxCollection   = "payment_outbox"
)

// PaymentDocument документ коллекции payments
type PaymentDocument struct {
	PaymentID    string    `bson:"payment_id"`
	OrderID      string    `bson:"order_id"`
	UserID       string    `bson:"user_id,omitempty"`
	RestaurantID string    `bson:"restaurant_id,omitempty"`
	Amount       int64     `bson:"amount"`
	Status       string    `bson:"status"`
	EventStatus  string    `bson:"event_status"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// OutboxDocument документ коллекции payment_outbox. Payload - закодированное событие.
type OutboxDocument struct {
	PaymentID string    `bson:"payment_id"`
	Payload   []byte    `bson:"payload"`
	Status    string    `bson:"status"`
	Attempts  int       `bson:"attempts"`
	LastError string    `bson:"last_error,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Repository реализует PaymentRepository и OutboxRepository поверх MongoDB
type Repository struct {
	payments *mongo.Collection
	outbox   *mongo.Collection
}

// NewRepository создаёт репозиторий. Индексы создаются отдельно через EnsureIndexes.
func NewRepository(client *mongo.Client, dbName string) *Repository {
	db := client.Database(dbName)
	return &Repository{
		payments: db.Collection(paymentsCollection),
		outbox:   db.Collection(outboxCollection),
	}
}

// EnsureIndexes создаёт уникальные индексы: один платёж на заказ, одна запись outbox на платёж
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "payment_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "order_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "event_status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create payments indexes: %w", err)
	}

	_, err = r.outbox.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "payment_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create outbox indexes: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, p repository.Payment) error {
	doc := PaymentDocument{
		PaymentID:    p.PaymentID,
		OrderID:      p.OrderID,
		UserID:       p.UserID,
		RestaurantID: p.RestaurantID,
		Amount:       p.Amount,
		Status:       p.Status,
		EventStatus:  p.EventStatus,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.CreatedAt.UTC(),
	}
	if _, err := r.payments.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, paymentID string) (repository.Payment, error) {
	return r.findOne(ctx, bson.M{"payment_id": paymentID})
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (repository.Payment, error) {
	return r.findOne(ctx, bson.M{"order_id": orderID})
}

func (r *Repository) findOne(ctx context.Context, filter bson.M) (repository.Payment, error) {
	var doc PaymentDocument
	if err := r.payments.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Payment{}, repository.ErrNotFound
		}
		return repository.Payment{}, fmt.Errorf("find payment: %w", err)
	}
	return fromPaymentDocument(doc), nil
}

func fromPaymentDocument(doc PaymentDocument) repository.Payment {
	return repository.Payment{
		PaymentID:    doc.PaymentID,
		OrderID:      doc.OrderID,
		UserID:       doc.UserID,
		RestaurantID: doc.RestaurantID,
		Amount:       doc.Amount,
		Status:       doc.Status,
		EventStatus:  doc.EventStatus,
		CreatedAt:    doc.CreatedAt,
	}
}

func (r *Repository) SetEventStatus(ctx context.Context, paymentID, status string) error {
	res, err := r.payments.UpdateOne(ctx,
		bson.M{"payment_id": paymentID},
		bson.M{"$set": bson.M{"event_status": status, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) ListEventPending(ctx context.Context, createdBefore time.Time, limit int) ([]repository.Payment, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	filter := bson.M{
		"event_status": repository.EventStatusPending,
		"created_at":   bson.M{"$lt": createdBefore.UTC()},
	}
	cur, err := r.payments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find payments with pending events: %w", err)
	}
	defer cur.Close(ctx)

	var docs []PaymentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode payments with pending events: %w", err)
	}

	payments := make([]repository.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, fromPaymentDocument(doc))
	}
	return payments, nil
}

// Enqueue вставляет запись только если её ещё нет ($setOnInsert + upsert)
func (r *Repository) Enqueue(ctx context.Context, event events.PaymentSucceeded) error {
	payload, err := events.Encode(event)
	if err != nil {
		return fmt.Errorf("encode outbox event: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.outbox.UpdateOne(ctx,
		bson.M{"payment_id": event.PaymentID},
		bson.M{"$setOnInsert": OutboxDocument{
			PaymentID: event.PaymentID,
			Payload:   payload,
			Status:    repository.OutboxStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetByPaymentID(ctx context.Context, paymentID string) (repository.OutboxEntry, error) {
	var doc OutboxDocument
	if err := r.outbox.FindOne(ctx, bson.M{"payment_id": paymentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.OutboxEntry{}, repository.ErrNotFound
		}
		return repository.OutboxEntry{}, fmt.Errorf("find outbox entry: %w", err)
	}
	return fromOutboxDocument(doc)
}

func (r *Repository) GetPending(ctx context.Context, limit int) ([]repository.OutboxEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.outbox.Find(ctx, bson.M{"status": repository.OutboxStatusPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending outbox: %w", err)
	}
	defer cur.Close(ctx)

	var docs []OutboxDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode pending outbox: %w", err)
	}

	entries := make([]repository.OutboxEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := fromOutboxDocument(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func fromOutboxDocument(doc OutboxDocument) (repository.OutboxEntry, error) {
	event, err := events.Decode(doc.Payload)
	if err != nil {
		return repository.OutboxEntry{}, fmt.Errorf("decode outbox payload %s: %w", doc.PaymentID, err)
	}
	return repository.OutboxEntry{
		PaymentID: doc.PaymentID,
		Event:     event,
		Status:    doc.Status,
		Attempts:  doc.Attempts,
		LastError: doc.LastError,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *Repository) MarkSent(ctx context.Context, paymentID string) error {
	return r.updateOutbox(ctx, paymentID, bson.M{
		"$set": bson.M{"status": repository.OutboxStatusSent, "updated_at": time.Now().UTC()},
	})
}

func (r *Repository) MarkFailed(ctx context.Context, paymentID, errMsg string) error {
	return r.updateOutbox(ctx, paymentID, bson.M{
		"$set": bson.M{"last_error": errMsg, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"attempts": 1},
	})
}

func (r *Repository) updateOutbox(ctx context.Context, paymentID string, update bson.M) error {
	res, err := r.outbox.UpdateOne(ctx, bson.M{"payment_id": paymentID}, update)
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
