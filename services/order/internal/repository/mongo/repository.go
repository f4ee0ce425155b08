package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/GoFoodTech/services/order/internal/repository"
)

const ordersCollection = "orders"

// OrderDocument документ коллекции orders
type OrderDocument struct {
	OrderID      string         `bson:"order_id"`
	UserID       string         `bson:"user_id"`
	RestaurantID string         `bson:"restaurant_id"`
	Items        []ItemDocument `bson:"items"`
	Amount       int64          `bson:"amount"`
	Status       string         `bson:"status"`
	PaymentID    string         `bson:"payment_id,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

// ItemDocument позиция заказа
type ItemDocument struct {
	MenuItemID string `bson:"menu_item_id"`
	Quantity   int32  `bson:"quantity"`
	Price      int64  `bson:"price"`
}

// Repository реализует OrderRepository поверх MongoDB
type Repository struct {
	orders *mongo.Collection
}

// NewRepository создаёт репозиторий
func NewRepository(client *mongo.Client, dbName string) *Repository {
	return &Repository{
		orders: client.Database(dbName).Collection(ordersCollection),
	}
}

// EnsureIndexes создаёт уникальный индекс по order_id
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.orders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "order_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create orders index: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, order repository.Order) error {
	if _, err := r.orders.InsertOne(ctx, toDocument(order)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	var doc OrderDocument
	if err := r.orders.FindOne(ctx, bson.M{"order_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, fmt.Errorf("find order: %w", err)
	}
	return fromDocument(doc), nil
}

// CompletePayment условное обновление: документ меняется только из pending
func (r *Repository) CompletePayment(ctx context.Context, orderID, paymentID string, at time.Time) (bool, error) {
	filter := bson.M{
		"order_id": orderID,
		"status":   repository.StatusPending,
	}
	update := bson.M{"$set": bson.M{
		"status":     repository.StatusCompleted,
		"payment_id": paymentID,
		"updated_at": at.UTC(),
	}}
	return r.transition(ctx, filter, update)
}

func (r *Repository) Cancel(ctx context.Context, orderID string, at time.Time) (bool, error) {
	filter := bson.M{
		"order_id": orderID,
		"status":   repository.StatusPending,
	}
	update := bson.M{"$set": bson.M{
		"status":     repository.StatusCancelled,
		"updated_at": at.UTC(),
	}}
	return r.transition(ctx, filter, update)
}

func (r *Repository) transition(ctx context.Context, filter, update bson.M) (bool, error) {
	err := r.orders.FindOneAndUpdate(ctx, filter, update).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("update order status: %w", err)
	}
	return true, nil
}

func toDocument(o repository.Order) OrderDocument {
	items := make([]ItemDocument, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemDocument{MenuItemID: it.MenuItemID, Quantity: it.Quantity, Price: it.Price})
	}
	return OrderDocument{
		OrderID:      o.OrderID,
		UserID:       o.UserID,
		RestaurantID: o.RestaurantID,
		Items:        items,
		Amount:       o.Amount,
		Status:       o.Status,
		PaymentID:    o.PaymentID,
		CreatedAt:    o.CreatedAt.UTC(),
		UpdatedAt:    o.UpdatedAt.UTC(),
	}
}

func fromDocument(doc OrderDocument) repository.Order {
	items := make([]repository.OrderItem, 0, len(doc.Items))
	for _, it := range doc.Items {
		items = append(items, repository.OrderItem{MenuItemID: it.MenuItemID, Quantity: it.Quantity, Price: it.Price})
	}
	return repository.Order{
		OrderID:      doc.OrderID,
		UserID:       doc.UserID,
		RestaurantID: doc.RestaurantID,
		Items:        items,
		Amount:       doc.Amount,
		Status:       doc.Status,
		PaymentID:    doc.PaymentID,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
