package character

import "testing"

func TestMemoryStoreSearch(t *testing.T) {
	store := NewMemoryStore([]Character{
		{ID: 1, Name: "Harry Potter", Description: "wizard"},
		{ID: 2, Name: "Socrates", Description: "Greek philosopher"},
		{ID: 3, Name: "Newton", Description: "physicist"},
	})

	got := store.Search("GREEK")
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("unexpected search result: %+v", got)
	}

	if got := store.Search("harry"); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected name match, got %+v", got)
	}

	if got := store.Search(""); len(got) != 3 {
		t.Fatalf("empty query should match all, got %d", len(got))
	}

	if got := store.Search("pirate"); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	c, ok := store.FindByID(2)
	if !ok || c.Name != "苏格拉底" {
		t.Fatalf("unexpected lookup result: %+v %v", c, ok)
	}

	if _, ok := store.FindByID(99); ok {
		t.Fatal("expected miss for unknown id")
	}
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	if c, _ := store.FindByID(list[0].ID); c.Name == "changed" {
		t.Fatal("List must not expose internal slice")
	}
}
