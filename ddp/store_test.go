package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCollectionStoreHandlesAddedChangedRemoved(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	store := NewCollectionStore(tracker)

	store.handleAdded("players", "p1", map[string]any{"name": "ada", "score": 1.0})
	doc, ok := store.Collection("players", false).FindOne("p1")
	assert.Equal(t, true, ok)
	assert.Equal(t, "ada", doc["name"])

	store.handleChanged("players", "p1", map[string]any{"score": 2.0}, nil)
	doc, _ = store.Collection("players", false).FindOne("p1")
	assert.Equal(t, 2.0, doc["score"])
	assert.Equal(t, "ada", doc["name"])

	store.handleChanged("players", "p1", nil, []string{"name"})
	doc, _ = store.Collection("players", false).FindOne("p1")
	_, hasName := doc["name"]
	assert.Equal(t, false, hasName)

	store.handleRemoved("players", "p1")
	_, ok = store.Collection("players", false).FindOne("p1")
	assert.Equal(t, false, ok)
}

func TestSelectorExactAndIn(t *testing.T) {
	selector := CompileSelector(map[string]any{
		"team": map[string]any{"$in": []any{"red", "blue"}},
	})
	assert.Equal(t, true, selector(Doc{"_id": "1", "team": "red"}))
	assert.Equal(t, false, selector(Doc{"_id": "2", "team": "green"}))
}

func TestSelectorAnd(t *testing.T) {
	selector := CompileSelector(map[string]any{
		"$and": []any{
			map[string]any{"active": true},
			map[string]any{"team": "red"},
		},
	})
	assert.Equal(t, true, selector(Doc{"_id": "1", "active": true, "team": "red"}))
	assert.Equal(t, false, selector(Doc{"_id": "2", "active": true, "team": "blue"}))
}

func TestClearNonLocalLeavesLocalCollectionsIntact(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	store := NewCollectionStore(tracker)

	store.handleAdded("players", "p1", map[string]any{"name": "ada"})
	localCollection := store.Collection("preferences", true)
	localCollection.Upsert("theme", Doc{"_id": "theme", "value": "dark"})

	store.ClearNonLocal()

	_, ok := store.Collection("players", false).FindOne("p1")
	assert.Equal(t, false, ok)

	_, ok = localCollection.FindOne("theme")
	assert.Equal(t, true, ok)
}

func TestFindReturnsSortedSnapshot(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	store := NewCollectionStore(tracker)

	store.handleAdded("players", "b", map[string]any{})
	store.handleAdded("players", "a", map[string]any{})

	cursor := store.Find("players", nil, FindOptions{})
	ids := cursor.Map(func(d Doc) any { return d.Id() })
	assert.Equal(t, []any{"a", "b"}, ids)
}
