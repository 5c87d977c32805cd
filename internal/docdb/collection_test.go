package docdb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// fakeAdapter keeps the last written dataset and counts writes.
type fakeAdapter struct {
	data     Dataset
	writes   int
	writeErr error
	readErr  error
}

func (f *fakeAdapter) Read(context.Context) (Dataset, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.data == nil {
		return Dataset{}, nil
	}
	return f.data.Clone(), nil
}

func (f *fakeAdapter) Write(_ context.Context, d Dataset) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.data = d.Clone()
	return nil
}

func setupCollection(t *testing.T, name string) (*Collection, *fakeAdapter) {
	t.Helper()
	a := &fakeAdapter{}
	s := New(a)
	if err := s.Load(t.Context()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c, err := s.Collection(name)
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	return c, a
}

// seedItems inserts 8 records, 5 of them in group B.
func seedItems(t *testing.T, c *Collection) {
	t.Helper()
	groups := []string{"A", "B", "B", "A", "B", "C", "B", "B"}
	items := make([]Record, len(groups))
	for i, g := range groups {
		items[i] = Record{"title": fmt.Sprintf("item%d", i), "group": g, "active": false}
	}
	if _, err := c.Insert(t.Context(), items...); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func titles(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r["title"].(string)
	}
	return out
}

func TestCollection(t *testing.T) {
	t.Run("Insert", func(t *testing.T) {
		t.Run("skips nil items", func(t *testing.T) {
			c, a := setupCollection(t, "items")
			got, err := c.Insert(t.Context(), Record{"title": "a"}, nil, Record{"title": "b"}, nil)
			if err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if len(got) != 2 {
				t.Errorf("Insert() returned %d records, want 2", len(got))
			}
			if n := len(c.Find(nil, "")); n != 2 {
				t.Errorf("Find() = %d records, want 2", n)
			}
			if a.writes != 1 {
				t.Errorf("writes = %d, want 1", a.writes)
			}
		})
		t.Run("empty insert still saves", func(t *testing.T) {
			c, a := setupCollection(t, "items")
			got, err := c.Insert(t.Context())
			if err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Insert() = %v, want empty", got)
			}
			if _, err := c.Insert(t.Context(), nil, nil); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if a.writes != 2 {
				t.Errorf("writes = %d, want 2", a.writes)
			}
		})
		t.Run("input is not aliased", func(t *testing.T) {
			c, _ := setupCollection(t, "items")
			in := Record{"title": "a", "meta": map[string]any{"x": 1}}
			out, err := c.InsertOne(t.Context(), in)
			if err != nil {
				t.Fatalf("InsertOne failed: %v", err)
			}
			if !reflect.DeepEqual(out, in) {
				t.Errorf("InsertOne() = %v, want %v", out, in)
			}
			in["title"] = "changed"
			in["meta"].(map[string]any)["x"] = 2
			out["title"] = "also changed"
			got, _ := c.FindOne(nil, "")
			if got["title"] != "a" || got["meta"].(map[string]any)["x"] != 1 {
				t.Errorf("stored record changed through aliasing: %v", got)
			}
		})
		t.Run("nil single record", func(t *testing.T) {
			c, a := setupCollection(t, "items")
			out, err := c.InsertOne(t.Context(), nil)
			if err != nil {
				t.Fatalf("InsertOne failed: %v", err)
			}
			if out == nil || len(out) != 0 {
				t.Errorf("InsertOne(nil) = %v, want empty record", out)
			}
			if c.Count(nil) != 1 || a.writes != 1 {
				t.Errorf("Count() = %d writes = %d, want 1 and 1", c.Count(nil), a.writes)
			}
		})
	})

	t.Run("Find", func(t *testing.T) {
		c, a := setupCollection(t, "items")
		seedItems(t, c)
		writes := a.writes

		tests := []struct {
			name   string
			query  Query
			fields string
			want   []string
		}{
			{"all", nil, "", []string{"item0", "item1", "item2", "item3", "item4", "item5", "item6", "item7"}},
			{"group", Query{"group": "A"}, "", []string{"item0", "item3"}},
			{"two fields", Query{"group": "B", "title": "item4"}, "", []string{"item4"}},
			{"none", Query{"group": "Z"}, "", []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := c.Find(tt.query, tt.fields)
				if got == nil {
					t.Fatal("Find() returned nil, want empty slice")
				}
				if g := titles(got); !reflect.DeepEqual(g, tt.want) {
					t.Errorf("Find(%v) = %v, want %v", tt.query, g, tt.want)
				}
			})
		}
		t.Run("fields", func(t *testing.T) {
			got := c.Find(Query{"title": "item0"}, "title")
			if !reflect.DeepEqual(got, []Record{{"title": "item0"}}) {
				t.Errorf("Find(fields=title) = %v", got)
			}
			got = c.Find(Query{"title": "item0"}, "-active -group")
			if !reflect.DeepEqual(got, []Record{{"title": "item0"}}) {
				t.Errorf("Find(fields=-active -group) = %v", got)
			}
		})
		t.Run("copies", func(t *testing.T) {
			got := c.Find(Query{"title": "item0"}, "")
			got[0]["group"] = "Z"
			if c.Count(Query{"group": "Z"}) != 0 {
				t.Error("mutating a found record changed the store")
			}
		})
		t.Run("copies survive writes", func(t *testing.T) {
			c, _ := setupCollection(t, "snap")
			seedItems(t, c)
			before, ok := c.FindOne(Query{"title": "item1"}, "")
			if !ok {
				t.Fatal("FindOne(item1) found nothing")
			}
			group := before["group"]
			if _, err := c.Update(t.Context(), Query{"title": "item1"}, Record{"group": "Z"}); err != nil {
				t.Fatal(err)
			}
			if _, err := c.UpdateOne(t.Context(), Query{"title": "item1"}, Record{"extra": true}); err != nil {
				t.Fatal(err)
			}
			if before["group"] != group {
				t.Errorf("earlier copy group = %v, want %v", before["group"], group)
			}
			if _, ok := before["extra"]; ok {
				t.Error("earlier copy gained a field from UpdateOne")
			}
		})
		if a.writes != writes {
			t.Errorf("reads saved: writes = %d, want %d", a.writes, writes)
		}
	})

	t.Run("FindOne", func(t *testing.T) {
		c, _ := setupCollection(t, "items")
		if _, ok := c.FindOne(nil, ""); ok {
			t.Error("FindOne() on empty collection should not find")
		}
		seedItems(t, c)
		if got, ok := c.FindOne(nil, ""); !ok || got["title"] != "item0" {
			t.Errorf("FindOne() = %v, %v, want item0", got, ok)
		}
		if got, ok := c.FindOne(Query{"group": "C"}, "title"); !ok || !reflect.DeepEqual(got, Record{"title": "item5"}) {
			t.Errorf("FindOne(group=C) = %v, %v", got, ok)
		}
		if _, ok := c.FindOne(Query{"group": "Z"}, ""); ok {
			t.Error("FindOne(group=Z) should not find")
		}
	})

	t.Run("Update", func(t *testing.T) {
		c, a := setupCollection(t, "items")
		seedItems(t, c)
		writes := a.writes
		n, err := c.Update(t.Context(), Query{"group": "B"}, Record{"active": true})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if n != 5 {
			t.Errorf("Update() = %d, want 5", n)
		}
		if a.writes != writes+1 {
			t.Errorf("writes = %d, want %d", a.writes, writes+1)
		}
		for _, r := range c.Find(nil, "") {
			want := r["group"] == "B"
			if r["active"] != want {
				t.Errorf("%v: active = %v, want %v", r["title"], r["active"], want)
			}
			if _, ok := r["title"]; !ok {
				t.Errorf("untouched field dropped: %v", r)
			}
		}
		n, err = c.Update(t.Context(), Query{"group": "Z"}, Record{"active": true})
		if err != nil || n != 0 {
			t.Errorf("Update(no match) = %d, %v, want 0, nil", n, err)
		}
		if a.writes != writes+1 {
			t.Errorf("zero-match update saved: writes = %d", a.writes)
		}
	})

	t.Run("UpdateOne", func(t *testing.T) {
		c, a := setupCollection(t, "items")
		seedItems(t, c)
		writes := a.writes
		changes := Record{"active": true, "tags": []any{"x"}}
		n, err := c.UpdateOne(t.Context(), Query{"group": "B"}, changes)
		if err != nil || n != 1 {
			t.Fatalf("UpdateOne() = %d, %v", n, err)
		}
		changes["tags"].([]any)[0] = "y"
		if got := c.Find(Query{"active": true}, ""); !reflect.DeepEqual(titles(got), []string{"item1"}) {
			t.Errorf("UpdateOne updated %v, want item1", titles(got))
		}
		if got, _ := c.FindOne(Query{"title": "item1"}, ""); got["tags"].([]any)[0] != "x" {
			t.Errorf("changes were aliased: %v", got["tags"])
		}
		n, err = c.UpdateOne(t.Context(), nil, Record{"first": true})
		if err != nil || n != 1 {
			t.Fatalf("UpdateOne(nil) = %d, %v", n, err)
		}
		if got, _ := c.FindOne(Query{"first": true}, ""); got["title"] != "item0" {
			t.Errorf("UpdateOne(nil) updated %v, want item0", got["title"])
		}
		n, err = c.UpdateOne(t.Context(), Query{"group": "Z"}, Record{"active": true})
		if err != nil || n != 0 {
			t.Errorf("UpdateOne(no match) = %d, %v", n, err)
		}
		if a.writes != writes+2 {
			t.Errorf("writes = %d, want %d", a.writes, writes+2)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		t.Run("all then idempotent", func(t *testing.T) {
			c, a := setupCollection(t, "items")
			seedItems(t, c)
			writes := a.writes
			n, err := c.Remove(t.Context(), nil)
			if err != nil || n != 8 {
				t.Fatalf("Remove() = %d, %v, want 8", n, err)
			}
			if got := c.Find(nil, ""); len(got) != 0 {
				t.Errorf("Find() after Remove = %v", got)
			}
			n, err = c.Remove(t.Context(), Query{})
			if err != nil || n != 0 {
				t.Errorf("second Remove() = %d, %v, want 0", n, err)
			}
			if a.writes != writes+1 {
				t.Errorf("writes = %d, want %d", a.writes, writes+1)
			}
		})
		t.Run("query keeps order", func(t *testing.T) {
			c, a := setupCollection(t, "items")
			seedItems(t, c)
			writes := a.writes
			n, err := c.Remove(t.Context(), Query{"group": "B"})
			if err != nil || n != 5 {
				t.Fatalf("Remove(group=B) = %d, %v, want 5", n, err)
			}
			if got := titles(c.Find(nil, "")); !reflect.DeepEqual(got, []string{"item0", "item3", "item5"}) {
				t.Errorf("remaining = %v", got)
			}
			if n, _ := c.Remove(t.Context(), Query{"group": "B"}); n != 0 {
				t.Errorf("Remove(group=B) again = %d", n)
			}
			if a.writes != writes+1 {
				t.Errorf("writes = %d, want %d", a.writes, writes+1)
			}
		})
	})

	t.Run("RemoveOne", func(t *testing.T) {
		c, a := setupCollection(t, "items")
		seedItems(t, c)
		writes := a.writes
		n, err := c.RemoveOne(t.Context(), nil)
		if err != nil || n != 1 {
			t.Fatalf("RemoveOne() = %d, %v", n, err)
		}
		if got, _ := c.FindOne(nil, ""); got["title"] != "item1" {
			t.Errorf("first record = %v, want item1", got["title"])
		}
		n, err = c.RemoveOne(t.Context(), Query{"group": "B"})
		if err != nil || n != 1 {
			t.Fatalf("RemoveOne(group=B) = %d, %v", n, err)
		}
		if got := titles(c.Find(Query{"group": "B"}, "")); !reflect.DeepEqual(got, []string{"item2", "item4", "item6", "item7"}) {
			t.Errorf("remaining B = %v", got)
		}
		n, err = c.RemoveOne(t.Context(), Query{"group": "Z"})
		if err != nil || n != 0 {
			t.Errorf("RemoveOne(no match) = %d, %v", n, err)
		}
		if c.Count(nil) != 6 {
			t.Errorf("Count() = %d, want 6", c.Count(nil))
		}
		if a.writes != writes+2 {
			t.Errorf("writes = %d, want %d", a.writes, writes+2)
		}
	})

	t.Run("shared views", func(t *testing.T) {
		c1, a := setupCollection(t, "items")
		c2, err := c1.store.Collection("items")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c1.InsertOne(t.Context(), Record{"title": "x"}); err != nil {
			t.Fatal(err)
		}
		if c2.Count(nil) != 1 {
			t.Errorf("second view sees %d records, want 1", c2.Count(nil))
		}
		if _, err := c2.Remove(t.Context(), nil); err != nil {
			t.Fatal(err)
		}
		if c1.Count(nil) != 0 {
			t.Errorf("first view sees %d records, want 0", c1.Count(nil))
		}
		if a.writes != 2 {
			t.Errorf("writes = %d, want 2", a.writes)
		}
	})

	t.Run("save failure keeps memory", func(t *testing.T) {
		c, a := setupCollection(t, "items")
		seedItems(t, c)
		boom := errors.New("disk full")
		a.writeErr = boom
		n, err := c.Update(t.Context(), Query{"group": "A"}, Record{"active": true})
		if !errors.Is(err, boom) {
			t.Fatalf("Update() error = %v, want %v", err, boom)
		}
		if n != 2 {
			t.Errorf("Update() = %d, want 2", n)
		}
		if c.Count(Query{"active": true}) != 2 {
			t.Error("in-memory change was rolled back")
		}
		if _, err := c.Insert(t.Context(), Record{"title": "z"}); !errors.Is(err, boom) {
			t.Errorf("Insert() error = %v, want %v", err, boom)
		}
	})
}
