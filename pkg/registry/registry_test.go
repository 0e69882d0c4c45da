package registry

import (
	"fmt"
	"testing"
)

type testItem struct {
	ID   string
	Name string
}

func TestBaseRegistry_Register(t *testing.T) {
	reg := NewBaseRegistry[testItem]()

	tests := []struct {
		name    string
		itemID  string
		wantErr bool
	}{
		{name: "register valid item", itemID: "rev", wantErr: false},
		{name: "register with empty name", itemID: "", wantErr: true},
		{name: "register duplicate", itemID: "rev", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.itemID, testItem{ID: tt.itemID})
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	reg := NewBaseRegistry[testItem]()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(id, testItem{ID: id}); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}

	items := reg.List()
	if len(items) != 3 {
		t.Fatalf("List() returned %d items, want 3", len(items))
	}
	for i, want := range []string{"zeta", "alpha", "mid"} {
		if items[i].ID != want {
			t.Errorf("List()[%d] = %s, want %s", i, items[i].ID, want)
		}
	}

	names := reg.Names()
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if names[i] != want {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want)
		}
	}
}

func TestBaseRegistry_Remove(t *testing.T) {
	reg := NewBaseRegistry[testItem]()
	if err := reg.Remove("missing"); err == nil {
		t.Error("Remove() on missing item should error")
	}

	_ = reg.Register("a", testItem{ID: "a"})
	if err := reg.Remove("a"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d after remove, want 0", reg.Count())
	}
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewBaseRegistry[int]()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = reg.Register(fmt.Sprintf("item-%d-%d", n, j), j)
				_, _ = reg.Get(fmt.Sprintf("item-%d-%d", n, j))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if reg.Count() != 800 {
		t.Errorf("Count() = %d, want 800", reg.Count())
	}
}
