package persistence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/query"
	"github.com/asaidimu/go-pocketdb/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewDatabase_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pocket")
	db, err := NewDatabase(root, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer db.Close()

	assert.DirExists(t, root)
	assert.Equal(t, root, db.Root())
	assert.Equal(t, filepath.Join(root, "users.db"), db.CollectionPath("users"))
	assert.Empty(t, db.Collections())
}

func TestDatabase_LoadCollection(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	c, err := db.LoadCollection(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", c.Name())
	assert.Equal(t, db.CollectionPath("users"), c.Path())
	assert.Equal(t, int64(1), c.NextID())
	assert.FileExists(t, c.Path(), "a new collection is written immediately")

	_, err = db.LoadCollection(ctx, "users")
	assert.ErrorIs(t, err, ErrCollectionExists)

	got, err := db.Collection("users")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = db.Collection("missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.LoadCollection(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, db.Collections())
}

func TestDatabase_InvalidNames(t *testing.T) {
	db := newTestDatabase(t)
	for _, name := range []string{"", "  ", ".", "..", "a/b", `a\b`} {
		_, err := db.LoadCollection(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidCollectionName, name)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestDatabase_LoadTrustsPersistedState(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	data := `{"items":[{"id":7,"name":"Old","address":{"city":"Nairobi"}}],"name":"legacy","nextID":10,"path":"/elsewhere/legacy.db"}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "legacy.db"), []byte(data), 0o644))

	db, err := NewDatabase(root)
	require.NoError(t, err)
	c, err := db.LoadCollection(ctx, "legacy")
	require.NoError(t, err)

	assert.Equal(t, int64(10), c.NextID())
	assert.Equal(t, filepath.Join(root, "legacy.db"), c.Path())

	doc, err := c.FindOne(ctx, query.Where(query.Filter{"id": 7}), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Nairobi"}, doc["address"])

	created, err := c.InsertOne(ctx, document.Document{"name": "New"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), created["id"])
}

func TestDatabase_LoadCorruptFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.db"), []byte("{"), 0o644))

	db, err := NewDatabase(root)
	require.NoError(t, err)
	_, err = db.LoadCollection(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, db.Collections())
}

func TestDatabase_RemoveCollection(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	c := newPeople(t, db)
	path := c.Path()

	require.NoError(t, db.RemoveCollection(ctx, "people"))
	assert.NoFileExists(t, path)
	assert.Empty(t, db.Collections())

	_, err := c.Find(ctx, query.Query{}, nil)
	assert.ErrorIs(t, err, ErrCollectionDropped)
	_, err = c.InsertOne(ctx, document.Document{"name": "Ghost"})
	assert.ErrorIs(t, err, ErrCollectionDropped)

	err = db.RemoveCollection(ctx, "people")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	fresh, err := db.LoadCollection(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.NextID())
}

func TestDatabase_CBORCodec(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	codec, err := NewCBORCodec()
	require.NoError(t, err)

	db, err := NewDatabase(root, WithCodec(codec))
	require.NoError(t, err)
	c := newPeople(t, db)
	assert.Equal(t, filepath.Join(root, "people.cbor"), c.Path())
	require.NoError(t, db.Close())

	reopened, err := NewDatabase(root, WithCodec(codec))
	require.NoError(t, err)
	c2, err := reopened.LoadCollection(ctx, "people")
	require.NoError(t, err)

	docs, err := c2.Find(ctx, query.All(), &query.Options{Sort: "age"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisa", "John", "Amie"}, names(docs))
	assert.Equal(t, int64(4), c2.NextID())
}

func TestDatabase_Metrics(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector("pocketdb")
	db := newTestDatabase(t, WithMetrics(collector))
	c := newPeople(t, db)

	_, err := c.Find(ctx, query.Query{}, nil)
	require.NoError(t, err)
	_, err = c.RemoveOne(ctx, query.Where(query.Filter{"name": "Nobody"}))
	require.Error(t, err)

	assert.Equal(t, float64(3), testutil.ToFloat64(collector.Records.WithLabelValues("people")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.Operations.WithLabelValues("insertMany", "people", metrics.StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.Operations.WithLabelValues("find", "people", metrics.StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.Operations.WithLabelValues("removeOne", "people", metrics.StatusError)))
}

func TestDatabase_Subscriptions(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	var (
		mu       sync.Mutex
		received []PersistenceEvent
	)
	label := "audit"
	id := db.RegisterSubscription(RegisterSubscriptionOptions{
		Event: DocumentCreateSuccess,
		Label: &label,
		Callback: func(_ context.Context, event PersistenceEvent) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, event)
			return nil
		},
	})
	assert.NotEmpty(t, id)

	subs := db.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, id, *subs[0].Id)
	assert.Equal(t, DocumentCreateSuccess, subs[0].Event)

	c, err := db.LoadCollection(ctx, "people")
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, document.Document{"name": "Kim"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	event := received[0]
	mu.Unlock()
	assert.Equal(t, "create", event.Operation)
	require.NotNil(t, event.Collection)
	assert.Equal(t, "people", *event.Collection)
	assert.Nil(t, event.Error)
	assert.NotNil(t, event.Duration)

	db.UnregisterSubscription(id)
	assert.Empty(t, db.Subscriptions())
	db.UnregisterSubscription(id)
}

func TestDatabase_FailureTelemetry(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	c := newPeople(t, db)

	errs := make(chan string, 1)
	db.RegisterSubscription(RegisterSubscriptionOptions{
		Event: DocumentUpdateFailed,
		Callback: func(_ context.Context, event PersistenceEvent) error {
			if event.Error != nil {
				errs <- *event.Error
			}
			return nil
		},
	})

	_, err := c.UpdateOne(ctx, query.Query{}, document.Document{"name": "x"})
	require.Error(t, err)

	select {
	case msg := <-errs:
		assert.Equal(t, err.Error(), msg)
	case <-time.After(time.Second):
		t.Fatal("no failure event received")
	}
}
