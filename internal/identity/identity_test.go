package identity

import (
	"testing"
	"time"
)

func TestNewBoxIDValid(t *testing.T) {
	id, err := NewBoxID()
	if err != nil {
		t.Fatalf("NewBoxID: %v", err)
	}
	if len(id) != boxIDLen {
		t.Fatalf("expected length %d, got %d (%q)", boxIDLen, len(id), id)
	}
	if !id.Valid() {
		t.Fatalf("expected %q to be valid", id)
	}
}

func TestBoxIDUniqueness(t *testing.T) {
	seen := make(map[BoxID]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewBoxID()
		if err != nil {
			t.Fatalf("NewBoxID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = true
	}
}

func TestBoxIDSortableByTime(t *testing.T) {
	early, err := newBoxIDAt(time.UnixMilli(1000))
	if err != nil {
		t.Fatal(err)
	}
	late, err := newBoxIDAt(time.UnixMilli(2000))
	if err != nil {
		t.Fatal(err)
	}
	if string(early) >= string(late) {
		t.Fatalf("expected %q < %q lexicographically", early, late)
	}
}

func TestBoxIDShort(t *testing.T) {
	id, _ := NewBoxID()
	if len(id.Short()) != boxIDShortLen {
		t.Fatalf("expected short form length %d, got %d", boxIDShortLen, len(id.Short()))
	}
}

func TestBoxIDHasPrefix(t *testing.T) {
	id, _ := NewBoxID()
	if !id.HasPrefix(id.Short()) {
		t.Fatalf("expected %q to have prefix %q", id, id.Short())
	}
	if id.HasPrefix("zzzzzzzz") {
		t.Fatal("unexpected prefix match")
	}
}

func TestNewContainerIDValid(t *testing.T) {
	id, err := NewContainerID()
	if err != nil {
		t.Fatalf("NewContainerID: %v", err)
	}
	if len(id) != containerIDLen {
		t.Fatalf("expected length %d, got %d", containerIDLen, len(id))
	}
	if !id.Valid() {
		t.Fatalf("expected %q to be valid", id)
	}
	if len(id.Short()) != containerShortLen {
		t.Fatalf("expected short form length %d, got %d", containerShortLen, len(id.Short()))
	}
}

func TestGenerateNameNonEmpty(t *testing.T) {
	if GenerateName() == "" {
		t.Fatal("expected a non-empty generated name")
	}
}
