package docdb

import (
	"context"
	"maps"
	"slices"
)

// Collection is a view of one named sequence of records owned by a Store.
//
// It never holds records itself: every call resolves the live sequence
// through the Store, so all views of a name observe the same records.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Find returns copies of every record matching q, in order, keeping the
// top-level fields selected by fields (see [ComputeKeys]).
func (c *Collection) Find(q Query, fields string) []Record {
	pairs := ToPairs(q)
	out := []Record{}
	for _, r := range c.store.records(c.name) {
		if Match(r, pairs) {
			out = append(out, CopyRecord(r, fields))
		}
	}
	return out
}

// FindOne returns a copy of the first record matching q. With an empty query
// it returns the first record. It returns false when nothing matches.
func (c *Collection) FindOne(q Query, fields string) (Record, bool) {
	i := c.queryOne(ToPairs(q))
	if i < 0 {
		return nil, false
	}
	return CopyRecord(c.store.records(c.name)[i], fields), true
}

// Count returns the number of records matching q.
func (c *Collection) Count(q Query) int {
	pairs := ToPairs(q)
	n := 0
	for _, r := range c.store.records(c.name) {
		if Match(r, pairs) {
			n++
		}
	}
	return n
}

// Insert appends copies of items, skipping nil ones, and returns copies of
// what was inserted.
//
// The dataset is always saved, even when nothing was appended.
func (c *Collection) Insert(ctx context.Context, items ...Record) ([]Record, error) {
	records := c.store.records(c.name)
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, CopyRecord(item, ""))
		out = append(out, CopyRecord(item, ""))
	}
	c.store.setRecords(c.name, records)
	if err := c.store.Save(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// InsertOne appends a copy of item and returns another copy of it. A nil item
// is stored as an empty record. The dataset is always saved.
func (c *Collection) InsertOne(ctx context.Context, item Record) (Record, error) {
	if item == nil {
		item = Record{}
	}
	c.store.setRecords(c.name, append(c.store.records(c.name), CopyRecord(item, "")))
	out := CopyRecord(item, "")
	if err := c.store.Save(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// Update sets the top-level fields of changes on every record matching q and
// returns how many were updated. Fields absent from changes are kept.
//
// Nothing is saved when no record matches.
func (c *Collection) Update(ctx context.Context, q Query, changes Record) (int, error) {
	pairs := ToPairs(q)
	patch := CopyRecord(changes, "")
	n := 0
	for _, r := range c.store.records(c.name) {
		if Match(r, pairs) {
			maps.Copy(r, patch)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, c.store.Save(ctx)
}

// UpdateOne is Update limited to the record FindOne would select. It returns 1
// when a record was updated, else 0 without saving.
func (c *Collection) UpdateOne(ctx context.Context, q Query, changes Record) (int, error) {
	i := c.queryOne(ToPairs(q))
	if i < 0 {
		return 0, nil
	}
	maps.Copy(c.store.records(c.name)[i], CopyRecord(changes, ""))
	return 1, c.store.Save(ctx)
}

// Remove deletes every record matching q and returns how many were removed.
// An empty query clears the collection. Nothing is saved when nothing was
// removed.
func (c *Collection) Remove(ctx context.Context, q Query) (int, error) {
	records := c.store.records(c.name)
	pairs := ToPairs(q)
	if len(pairs) == 0 {
		n := len(records)
		if n == 0 {
			return 0, nil
		}
		c.store.setRecords(c.name, []Record{})
		return n, c.store.Save(ctx)
	}
	var indexes []int
	for i, r := range records {
		if Match(r, pairs) {
			indexes = append(indexes, i)
		}
	}
	if len(indexes) == 0 {
		return 0, nil
	}
	// Highest first so lower indexes stay valid.
	for _, i := range slices.Backward(indexes) {
		records = slices.Delete(records, i, i+1)
	}
	c.store.setRecords(c.name, records)
	return len(indexes), c.store.Save(ctx)
}

// RemoveOne deletes the first record matching q. An empty query matches the
// first record. It returns 1 when a record was removed, else 0 without saving.
func (c *Collection) RemoveOne(ctx context.Context, q Query) (int, error) {
	records := c.store.records(c.name)
	pairs := ToPairs(q)
	i := slices.IndexFunc(records, func(r Record) bool { return Match(r, pairs) })
	if i < 0 {
		return 0, nil
	}
	c.store.setRecords(c.name, slices.Delete(records, i, i+1))
	return 1, c.store.Save(ctx)
}

// queryOne returns the index of the first match, or the first record when
// pairs is empty, or -1.
func (c *Collection) queryOne(pairs []Pair) int {
	records := c.store.records(c.name)
	if len(pairs) == 0 {
		if len(records) == 0 {
			return -1
		}
		return 0
	}
	return slices.IndexFunc(records, func(r Record) bool { return Match(r, pairs) })
}
