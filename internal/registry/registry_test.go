package registry

import "testing"

func TestRegistryOrderPreserved(t *testing.T) {
	r := New()
	names := []string{"ping.o", "pong.o", "boot.o"}
	for _, n := range names {
		if err := r.Create(n, &Component{Name: n, ObjPath: n}); err != nil {
			t.Fatalf("Create(%q) error = %v", n, err)
		}
	}

	var seen []string
	r.InOrder(func(key string, c *Component) { seen = append(seen, key) })

	for i, want := range names {
		if seen[i] != want {
			t.Errorf("InOrder()[%d] = %q, want %q", i, seen[i], want)
		}
	}
}

func TestRegistryDuplicateKeyRejected(t *testing.T) {
	r := New()
	if err := r.Create("a.o", &Component{Name: "a.o"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := r.Create("a.o", &Component{Name: "a.o"}); err == nil {
		t.Error("Create() with duplicate key: want error, got nil")
	}
}

func TestDecoratedNamesDistinctFromBaseName(t *testing.T) {
	r := New()
	if err := r.Create("ping.o", &Component{Name: "ping.o", ObjPath: "ping.o"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Create("ping2.o", &Component{Name: "ping2.o", ObjPath: "ping2.o"}); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestFindBySubstring(t *testing.T) {
	r := New()
	_ = r.Create("a", &Component{ObjPath: "/path/to/boot.o"})
	_ = r.Create("b", &Component{ObjPath: "/path/to/c0.o"})

	c := r.FindBySubstring("boot.o")
	if c == nil || c.ObjPath != "/path/to/boot.o" {
		t.Errorf("FindBySubstring(boot.o) = %+v, want boot.o component", c)
	}

	if r.FindBySubstring("nope.o") != nil {
		t.Error("FindBySubstring(nope.o) = non-nil, want nil")
	}
}

func TestUndefIndexIsSlotPosition(t *testing.T) {
	c := &Component{Undef: []Symbol{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	if got := c.UndefIndex("b"); got != 1 {
		t.Errorf("UndefIndex(b) = %d, want 1", got)
	}
	if got := c.UndefIndex("missing"); got != -1 {
		t.Errorf("UndefIndex(missing) = %d, want -1", got)
	}
}
