// Package handlers implements the HTTP handlers of the persiston API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/maruel/persiston/internal/docdb"
	apierrors "github.com/maruel/persiston/internal/errors"
)

// Collections serves the collection operations of a Store. Every Store access
// holds mu.
type Collections struct {
	mu    sync.Mutex
	store *docdb.Store
}

// NewCollections returns handlers for store. The store must already be loaded.
func NewCollections(store *docdb.Store) *Collections {
	return &Collections{store: store}
}

// QueryRequest selects records.
type QueryRequest struct {
	Name   string      `json:"-" path:"name"`
	Query  docdb.Query `json:"query,omitempty"`
	Fields string      `json:"fields,omitempty"`
}

// ItemsResponse holds records.
type ItemsResponse struct {
	Items []docdb.Record `json:"items"`
}

// ItemResponse holds a single record, null when none matched.
type ItemResponse struct {
	Item docdb.Record `json:"item"`
}

// CountResponse holds a record count.
type CountResponse struct {
	Count int `json:"count"`
}

// InsertRequest appends records.
type InsertRequest struct {
	Name  string         `json:"-" path:"name"`
	Items []docdb.Record `json:"items"`
}

// UpdateRequest merges changes into the matching records.
type UpdateRequest struct {
	Name    string       `json:"-" path:"name"`
	Query   docdb.Query  `json:"query,omitempty"`
	Changes docdb.Record `json:"changes"`
	// One limits the update to the first match.
	One bool `json:"one,omitempty"`
}

// RemoveRequest deletes the matching records.
type RemoveRequest struct {
	Name  string      `json:"-" path:"name"`
	Query docdb.Query `json:"query,omitempty"`
	// One limits the removal to the first match.
	One bool `json:"one,omitempty"`
}

// NamesRequest is the request type for listing collections (empty).
type NamesRequest struct{}

// NamesResponse lists collection names.
type NamesResponse struct {
	Names []string `json:"names"`
}

// Find returns the records matching the query.
func (h *Collections) Find(ctx context.Context, req QueryRequest) (*ItemsResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.collection(req.Name)
	if err != nil {
		return nil, err
	}
	return &ItemsResponse{Items: c.Find(req.Query, req.Fields)}, nil
}

// FindOne returns the first record matching the query.
func (h *Collections) FindOne(ctx context.Context, req QueryRequest) (*ItemResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.collection(req.Name)
	if err != nil {
		return nil, err
	}
	r, _ := c.FindOne(req.Query, req.Fields)
	return &ItemResponse{Item: r}, nil
}

// Count returns the number of records matching the query.
func (h *Collections) Count(ctx context.Context, req QueryRequest) (*CountResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.collection(req.Name)
	if err != nil {
		return nil, err
	}
	return &CountResponse{Count: c.Count(req.Query)}, nil
}

// Insert appends the items and returns copies of what was stored.
func (h *Collections) Insert(ctx context.Context, req InsertRequest) (*ItemsResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.collection(req.Name)
	if err != nil {
		return nil, err
	}
	items, err := c.Insert(ctx, req.Items...)
	if err != nil {
		return nil, apierrors.Storage(err, len(items))
	}
	return &ItemsResponse{Items: items}, nil
}

// Update merges changes into the matching records.
func (h *Collections) Update(ctx context.Context, req UpdateRequest) (*CountResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.collection(req.Name)
	if err != nil {
		return nil, err
	}
	update := c.Update
	if req.One {
		update = c.UpdateOne
	}
	n, err := update(ctx, req.Query, req.Changes)
	if err != nil {
		return nil, apierrors.Storage(err, n)
	}
	return &CountResponse{Count: n}, nil
}

// Remove deletes the matching records.
func (h *Collections) Remove(ctx context.Context, req RemoveRequest) (*CountResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.collection(req.Name)
	if err != nil {
		return nil, err
	}
	remove := c.Remove
	if req.One {
		remove = c.RemoveOne
	}
	n, err := remove(ctx, req.Query)
	if err != nil {
		return nil, apierrors.Storage(err, n)
	}
	return &CountResponse{Count: n}, nil
}

// Names lists the collections.
func (h *Collections) Names(ctx context.Context, req NamesRequest) (*NamesResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &NamesResponse{Names: h.store.Names()}, nil
}

// Reload reloads the dataset from the adapter, running migrations.
func (h *Collections) Reload(ctx context.Context, req NamesRequest) (*NamesResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.Load(ctx); err != nil {
		return nil, apierrors.Storage(err, 0)
	}
	slog.InfoContext(ctx, "Reloaded dataset", "collections", len(h.store.Names()))
	return &NamesResponse{Names: h.store.Names()}, nil
}

// Version returns the store's schema version.
func (h *Collections) Version() int {
	return h.store.Version()
}

func (h *Collections) collection(name string) (*docdb.Collection, error) {
	c, err := h.store.Collection(name)
	if err != nil {
		if errors.Is(err, docdb.ErrInvalidCollectionName) {
			return nil, apierrors.InvalidCollection(name, err)
		}
		return nil, apierrors.InternalWithError("failed to get collection", err)
	}
	return c, nil
}
