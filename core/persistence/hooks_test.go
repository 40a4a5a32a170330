package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHook(context.Context, Change) error { return nil }

func TestEvent_IsValid(t *testing.T) {
	for _, e := range []Event{BeforeSave, AfterSave, BeforeRemove, AfterRemove} {
		assert.True(t, e.IsValid(), e)
	}
	assert.False(t, Event("beforeUpdate").IsValid())
	assert.False(t, Event("").IsValid())
}

func TestCollection_AddListener(t *testing.T) {
	c := newPeople(t, newTestDatabase(t))

	require.NoError(t, c.AddListener(BeforeSave, noopHook, "audit"))
	require.NoError(t, c.AddListener(AfterSave, noopHook, "audit"), "the same id may be used for another event")

	err := c.AddListener(BeforeSave, noopHook, "audit")
	assert.ErrorIs(t, err, ErrDuplicateListener)

	err = c.AddListener("onSave", noopHook, "x")
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, c.AddListener(BeforeSave, noopHook, ""), ErrValidation)
	assert.ErrorIs(t, c.AddListener(BeforeSave, nil, "nil"), ErrValidation)

	listeners := c.Listeners()
	require.Len(t, listeners, 2)
	assert.Equal(t, BeforeSave, listeners[0].Event)
	assert.Equal(t, AfterSave, listeners[1].Event)

	c.RemoveListener("audit")
	assert.Empty(t, c.Listeners())
	c.RemoveListener("missing")
}

func TestCollection_HookPayloads(t *testing.T) {
	ctx := context.Background()
	c := newPeople(t, newTestDatabase(t))

	var changes []Change
	record := func(_ context.Context, change Change) error {
		changes = append(changes, change)
		return nil
	}
	for _, e := range []Event{BeforeSave, AfterSave, BeforeRemove, AfterRemove} {
		require.NoError(t, c.AddListener(e, record, "recorder"))
	}

	_, err := c.InsertOne(ctx, document.Document{"name": "Kim"})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, BeforeSave, changes[0].Event)
	assert.Equal(t, AfterSave, changes[1].Event)
	assert.NotContains(t, changes[0].Original[0], "id")
	assert.Equal(t, int64(4), changes[0].Modified[0]["id"])

	changes = nil
	_, err = c.UpdateOne(ctx, query.Where(query.Filter{"name": "Kim"}), document.Document{"name": "Kimberly"})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "Kim", changes[0].Original[0]["name"])
	assert.Equal(t, "Kimberly", changes[0].Modified[0]["name"])

	changes = nil
	_, err = c.Remove(ctx, query.Where(query.Filter{"age": map[string]any{"$gte": 21}}))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, BeforeRemove, changes[0].Event)
	assert.Equal(t, AfterRemove, changes[1].Event)
	assert.Equal(t, []string{"Amie", "John"}, names(changes[1].Original))
	assert.Equal(t, changes[1].Original, changes[1].Modified)
}

func TestCollection_HooksRunInRegistrationOrder(t *testing.T) {
	c := newPeople(t, newTestDatabase(t))

	var order []string
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, c.AddListener(BeforeSave, func(context.Context, Change) error {
			order = append(order, id)
			return nil
		}, id))
	}

	_, err := c.InsertOne(context.Background(), document.Document{"name": "Kim"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestCollection_BeforeHookErrorAborts(t *testing.T) {
	ctx := context.Background()
	c := newPeople(t, newTestDatabase(t))
	veto := errors.New("vetoed")

	var laterCalled bool
	require.NoError(t, c.AddListener(BeforeSave, func(context.Context, Change) error { return veto }, "veto"))
	require.NoError(t, c.AddListener(BeforeSave, func(context.Context, Change) error {
		laterCalled = true
		return nil
	}, "later"))

	created, err := c.InsertOne(ctx, document.Document{"name": "Kim"})
	assert.ErrorIs(t, err, veto)
	assert.Nil(t, created)
	assert.False(t, laterCalled, "dispatch stops at the first error")
	assert.Equal(t, int64(4), c.NextID())

	state, err := c.backend.Load(ctx, c.Name())
	require.NoError(t, err)
	assert.Len(t, state.Items, 3, "nothing was persisted")
}

func TestCollection_AfterHookErrorKeepsMutation(t *testing.T) {
	ctx := context.Background()
	c := newPeople(t, newTestDatabase(t))
	boom := errors.New("boom")

	require.NoError(t, c.AddListener(AfterRemove, func(context.Context, Change) error { return boom }, "boom"))

	removed, err := c.RemoveOne(ctx, query.Where(query.Filter{"name": "John"}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "John", removed["name"])

	n, err := c.Count(ctx, query.Query{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	state, err := c.backend.Load(ctx, c.Name())
	require.NoError(t, err)
	assert.Len(t, state.Items, 2)
}

func TestCollection_HookCannotMutatePayloadIntoState(t *testing.T) {
	ctx := context.Background()
	c := newPeople(t, newTestDatabase(t))

	require.NoError(t, c.AddListener(BeforeSave, func(_ context.Context, change Change) error {
		change.Modified[0]["name"] = "Tampered"
		return nil
	}, "tamper"))

	created, err := c.InsertOne(ctx, document.Document{"name": "Kim"})
	require.NoError(t, err)
	assert.Equal(t, "Kim", created["name"])
}

func TestCollection_ReentrantMutationFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	c := newPeople(t, db)
	other, err := db.LoadCollection(ctx, "audit")
	require.NoError(t, err)

	var (
		reentrantErr error
		seen         int
		otherErr     error
	)
	require.NoError(t, c.AddListener(AfterSave, func(hookCtx context.Context, change Change) error {
		_, reentrantErr = c.InsertOne(hookCtx, document.Document{"name": "Loop"})

		n, err := c.Count(hookCtx, query.Query{}, nil)
		if err != nil {
			return err
		}
		seen = n

		_, otherErr = other.InsertOne(hookCtx, document.Document{"event": string(change.Event)})
		return nil
	}, "reentrant"))

	_, err = c.InsertOne(ctx, document.Document{"name": "Kim"})
	require.NoError(t, err)

	assert.ErrorIs(t, reentrantErr, ErrReentrantMutation)
	assert.ErrorIs(t, reentrantErr, ErrValidation)
	assert.Equal(t, 4, seen, "reads inside hooks see the committed state")
	assert.NoError(t, otherErr, "other collections may be mutated from a hook")

	n, err := other.Count(ctx, query.Query{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollection_HookWithFreshContextFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		call  func(c *Collection) error
	}{
		{"mutation after save", AfterSave, func(c *Collection) error {
			_, err := c.InsertOne(context.Background(), document.Document{"name": "Loop"})
			return err
		}},
		{"read before save", BeforeSave, func(c *Collection) error {
			_, err := c.Count(context.TODO(), query.Query{}, nil)
			return err
		}},
		{"find after save", AfterSave, func(c *Collection) error {
			_, err := c.Find(context.Background(), query.All(), nil)
			return err
		}},
		{"remove before save", BeforeSave, func(c *Collection) error {
			_, err := c.RemoveOne(context.Background(), query.Where(query.Filter{"name": "Amie"}))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c := newPeople(t, newTestDatabase(t))

			var innerErr error
			require.NoError(t, c.AddListener(tt.event, func(context.Context, Change) error {
				innerErr = tt.call(c)
				return nil
			}, "fresh-context"))

			done := make(chan error, 1)
			go func() {
				_, err := c.InsertOne(ctx, document.Document{"name": "Kim"})
				done <- err
			}()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("InsertOne did not return while its hook used the collection")
			}

			assert.ErrorIs(t, innerErr, ErrReentrantMutation)
			assert.ErrorIs(t, innerErr, ErrValidation)

			c.RemoveListener("fresh-context")
			n, err := c.Count(ctx, query.Query{}, nil)
			require.NoError(t, err)
			assert.Equal(t, 4, n, "the collection stays usable after dispatch")
			_, err = c.InsertOne(ctx, document.Document{"name": "Ana"})
			assert.NoError(t, err)
		})
	}
}
