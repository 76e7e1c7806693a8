package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

// cartDocument is the stored shape; totals are kept as decimal strings.
type cartDocument struct {
	ID         string         `bson:"_id"`
	UserID     string         `bson:"user_id"`
	Items      []itemDocument `bson:"items"`
	TotalPrice string         `bson:"total_price"`
	Currency   string         `bson:"currency"`
	Version    int64          `bson:"version"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	AddedAt   time.Time `bson:"added_at"`
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return fromDocument(doc)
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	doc := toDocument(cart, now)

	if cart.Version == 0 {
		if _, err := m.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to insert cart: %w", err)
		}
		applySaved(cart, doc)
		return nil
	}

	filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
	update := bson.M{"$set": bson.M{
		"items":       doc.Items,
		"total_price": doc.TotalPrice,
		"currency":    doc.Currency,
		"version":     doc.Version,
		"updated_at":  doc.UpdatedAt,
	}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	applySaved(cart, doc)
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, userID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// toDocument builds the next stored revision of cart without touching cart itself.
func toDocument(cart *domain.Cart, now time.Time) cartDocument {
	doc := cartDocument{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      make([]itemDocument, len(cart.Items)),
		TotalPrice: cart.TotalPrice.String(),
		Currency:   cart.Currency,
		Version:    cart.Version + 1,
		CreatedAt:  cart.CreatedAt,
		UpdatedAt:  now,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	for i, it := range cart.Items {
		doc.Items[i] = itemDocument{ProductID: it.ProductID, Quantity: it.Quantity, AddedAt: it.AddedAt}
	}
	return doc
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	total, err := decimal.NewFromString(doc.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid stored total %q: %w", doc.TotalPrice, err)
	}

	cart := &domain.Cart{
		ID:         doc.ID,
		UserID:     doc.UserID,
		Items:      make([]domain.CartItem, len(doc.Items)),
		TotalPrice: total,
		Currency:   doc.Currency,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	for i, it := range doc.Items {
		cart.Items[i] = domain.CartItem{ProductID: it.ProductID, Quantity: it.Quantity, AddedAt: it.AddedAt}
	}
	return cart, nil
}

func applySaved(cart *domain.Cart, doc cartDocument) {
	cart.ID = doc.ID
	cart.Version = doc.Version
	cart.CreatedAt = doc.CreatedAt
	cart.UpdatedAt = doc.UpdatedAt
}
