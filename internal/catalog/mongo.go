package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const lookupTimeout = 3 * time.Second

// Connect opens a client and pings it
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	return client, client.Database(database), nil
}

// menuDocument is the shape of the regular menu collection
type menuDocument struct {
	Title    string  `bson:"title"`
	Price    float64 `bson:"price"`
	Discount struct {
		Active     bool    `bson:"active"`
		Percentage float64 `bson:"percentage"`
	} `bson:"discount"`
}

func (d menuDocument) toProduct(id string) *Product {
	p := &Product{
		ID:    id,
		Title: d.Title,
		Price: decimal.NewFromFloat(d.Price),
		Kind:  KindMenu,
	}
	if d.Discount.Active {
		p.DiscountPercent = decimal.NewFromFloat(d.Discount.Percentage)
	}
	return p
}

// alcoholDocument is the shape of the alcohol collection
type alcoholDocument struct {
	Name               string  `bson:"name"`
	Price              float64 `bson:"price"`
	DiscountPercentage float64 `bson:"discountPercentage"`
}

func (d alcoholDocument) toProduct(id string) *Product {
	return &Product{
		ID:              id,
		Title:           d.Name,
		Price:           decimal.NewFromFloat(d.Price),
		DiscountPercent: decimal.NewFromFloat(d.DiscountPercentage),
		Kind:            KindAlcohol,
	}
}

// MongoSource reads one collection and maps its documents to Product
type MongoSource struct {
	coll   *mongo.Collection
	decode func(raw bson.Raw, id string) (*Product, error)
}

// NewMenuSource reads the regular menu collection
func NewMenuSource(db *mongo.Database, collection string) *MongoSource {
	return &MongoSource{
		coll: db.Collection(collection),
		decode: func(raw bson.Raw, id string) (*Product, error) {
			var doc menuDocument
			if err := bson.Unmarshal(raw, &doc); err != nil {
				return nil, err
			}
			return doc.toProduct(id), nil
		},
	}
}

// NewAlcoholSource reads the alcohol collection
func NewAlcoholSource(db *mongo.Database, collection string) *MongoSource {
	return &MongoSource{
		coll: db.Collection(collection),
		decode: func(raw bson.Raw, id string) (*Product, error) {
			var doc alcoholDocument
			if err := bson.Unmarshal(raw, &doc); err != nil {
				return nil, err
			}
			return doc.toProduct(id), nil
		},
	}
}

// FindByID implements ProductCatalog
func (s *MongoSource) FindByID(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	raw, err := s.coll.FindOne(ctx, idFilter(id)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product %s in %s: %w", id, s.coll.Name(), err)
	}

	product, err := s.decode(raw, id)
	if err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", id, err)
	}
	return product, nil
}

// idFilter matches both ObjectID and plain string identifiers
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}
