package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type mapCatalog struct {
	products map[string]*Product
	err      error
	calls    int
}

func (m *mapCatalog) FindByID(_ context.Context, id string) (*Product, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.products[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

type memoryCache struct {
	data    map[string][]byte
	failGet bool
}

func (m *memoryCache) GetJSON(_ context.Context, key string, dst interface{}) (bool, error) {
	if m.failGet {
		return false, errors.New("redis unavailable")
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func TestDiscountedPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		want     string
	}{
		{"no discount", "10", "0", "10.00"},
		{"ten percent", "10", "10", "9.00"},
		{"rounds half up", "9.99", "15", "8.49"},
		{"rounds half away", "0.05", "10", "0.05"},
		{"thirds", "12.50", "33.333", "8.33"},
		{"full discount", "7.40", "100", "0.00"},
		{"discount above hundred", "7.40", "150", "0.00"},
		{"negative discount", "7.40", "-20", "7.40"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Price: decimal.RequireFromString(tt.price), DiscountPercent: decimal.RequireFromString(tt.discount)}
			assert.Equal(t, tt.want, p.DiscountedPrice().StringFixed(2))
		})
	}
}

func TestChainFallsBackToSecondCatalog(t *testing.T) {
	menu := &mapCatalog{products: map[string]*Product{"m1": {ID: "m1", Kind: KindMenu}}}
	alcohol := &mapCatalog{products: map[string]*Product{"a1": {ID: "a1", Kind: KindAlcohol}}}
	chain := Chain{menu, alcohol}

	p, err := chain.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, KindMenu, p.Kind)
	assert.Equal(t, 0, alcohol.calls)

	p, err = chain.FindByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, KindAlcohol, p.Kind)

	_, err = chain.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChainStopsOnBackendError(t *testing.T) {
	boom := errors.New("mongo timeout")
	menu := &mapCatalog{err: boom}
	alcohol := &mapCatalog{products: map[string]*Product{"a1": {ID: "a1"}}}

	_, err := Chain{menu, alcohol}.FindByID(context.Background(), "a1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, alcohol.calls)
}

func TestCachedCatalog(t *testing.T) {
	source := &mapCatalog{products: map[string]*Product{
		"m1": {ID: "m1", Title: "Moussaka", Price: decimal.RequireFromString("12.50"), Kind: KindMenu},
	}}
	cache := &memoryCache{data: map[string][]byte{}}
	cached := NewCached(source, cache, time.Minute)

	first, err := cached.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	second, err := cached.FindByID(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, first.Title, second.Title)
	assert.True(t, first.Price.Equal(second.Price))

	_, err = cached.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, cache.data, "catalog:product:nope")

	cache.failGet = true
	_, err = cached.FindByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestDocumentMapping(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"title":    "Spanakopita",
		"price":    8.5,
		"discount": bson.M{"active": true, "percentage": 10.0},
	})
	require.NoError(t, err)

	var menu menuDocument
	require.NoError(t, bson.Unmarshal(raw, &menu))
	p := menu.toProduct("m9")
	assert.Equal(t, "Spanakopita", p.Title)
	assert.Equal(t, "7.65", p.DiscountedPrice().StringFixed(2))

	menu.Discount.Active = false
	assert.Equal(t, "8.50", menu.toProduct("m9").DiscountedPrice().StringFixed(2))

	alcohol := alcoholDocument{Name: "Retsina 750ml", Price: 14, DiscountPercentage: 20}
	a := alcohol.toProduct("a9")
	assert.Equal(t, KindAlcohol, a.Kind)
	assert.Equal(t, "11.20", a.DiscountedPrice().StringFixed(2))
}

func TestIDFilter(t *testing.T) {
	f := idFilter("65f1c0d2a3b4c5d6e7f80912")
	in, ok := f["_id"].(bson.M)
	require.True(t, ok)
	assert.Len(t, in["$in"], 2)

	assert.Equal(t, bson.M{"_id": "souvlaki-pork"}, idFilter("souvlaki-pork"))
}
