package handlers

import (
	"errors"
	"sync"
	"testing"

	"github.com/maruel/persiston/internal/docdb"
	apierrors "github.com/maruel/persiston/internal/errors"
	"github.com/maruel/persiston/internal/storage"
)

func setup(t *testing.T) (*Collections, *storage.MemoryAdapter) {
	t.Helper()
	adapter := storage.NewMemoryAdapter(docdb.Dataset{
		"notes": []any{
			map[string]any{"title": "a", "tag": "x"},
			map[string]any{"title": "b", "tag": "y"},
			map[string]any{"title": "c", "tag": "x"},
		},
	})
	store := docdb.New(adapter)
	if err := store.Load(t.Context()); err != nil {
		t.Fatal(err)
	}
	return NewCollections(store), adapter
}

func TestCollections(t *testing.T) {
	ctx := t.Context()
	h, adapter := setup(t)

	found, err := h.Find(ctx, QueryRequest{Name: "notes", Query: docdb.Query{"tag": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(found.Items) != 2 {
		t.Errorf("Find() = %v, want 2 items", found.Items)
	}

	one, err := h.FindOne(ctx, QueryRequest{Name: "notes", Query: docdb.Query{"tag": "y"}, Fields: "-tag"})
	if err != nil {
		t.Fatal(err)
	}
	if one.Item["title"] != "b" || len(one.Item) != 1 {
		t.Errorf("FindOne() = %v", one.Item)
	}

	upd, err := h.Update(ctx, UpdateRequest{Name: "notes", Query: docdb.Query{"tag": "x"}, Changes: docdb.Record{"done": true}})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Count != 2 {
		t.Errorf("Update() = %d, want 2", upd.Count)
	}
	upd, err = h.Update(ctx, UpdateRequest{Name: "notes", Query: docdb.Query{"tag": "x"}, Changes: docdb.Record{"done": false}, One: true})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Count != 1 {
		t.Errorf("UpdateOne() = %d, want 1", upd.Count)
	}

	rm, err := h.Remove(ctx, RemoveRequest{Name: "notes", Query: docdb.Query{"done": true}, One: true})
	if err != nil {
		t.Fatal(err)
	}
	if rm.Count != 1 {
		t.Errorf("RemoveOne() = %d, want 1", rm.Count)
	}
	cnt, err := h.Count(ctx, QueryRequest{Name: "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if cnt.Count != 2 {
		t.Errorf("Count() = %d, want 2", cnt.Count)
	}
	// Update, UpdateOne and RemoveOne each saved once.
	if adapter.Writes() != 3 {
		t.Errorf("Writes() = %d, want 3", adapter.Writes())
	}

	if _, err := h.Find(ctx, QueryRequest{Name: docdb.VersionKey}); err == nil {
		t.Error("Find(reserved) succeeded")
	} else {
		var apiErr *apierrors.APIError
		if !errors.As(err, &apiErr) || apiErr.Code() != apierrors.ErrInvalidCollection {
			t.Errorf("Find(reserved) = %v", err)
		}
	}
}

func TestCollectionsReload(t *testing.T) {
	ctx := t.Context()
	h, adapter := setup(t)
	if err := adapter.Write(ctx, docdb.Dataset{"other": []any{}, docdb.VersionKey: 1}); err != nil {
		t.Fatal(err)
	}
	names, err := h.Reload(ctx, NamesRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(names.Names) != 1 || names.Names[0] != "other" {
		t.Errorf("Reload() = %v", names.Names)
	}
	health, err := h.Health(ctx, HealthRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Version != 1 {
		t.Errorf("Health() = %+v", health)
	}
}

func TestCollectionsConcurrent(t *testing.T) {
	ctx := t.Context()
	h, adapter := setup(t)
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			if _, err := h.Insert(ctx, InsertRequest{Name: "events", Items: []docdb.Record{{"n": 1}}}); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()
	cnt, err := h.Count(ctx, QueryRequest{Name: "events"})
	if err != nil {
		t.Fatal(err)
	}
	if cnt.Count != 20 {
		t.Errorf("Count() = %d, want 20", cnt.Count)
	}
	if adapter.Writes() != 20 {
		t.Errorf("Writes() = %d, want 20", adapter.Writes())
	}
}
