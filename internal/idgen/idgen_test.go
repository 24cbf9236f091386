package idgen

import (
	"regexp"
	"testing"
)

func TestIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() (string, error)
		prefix string
	}{
		{"event", EventID, EventPrefix},
		{"task", TaskID, TaskPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.gen()
			if err != nil {
				t.Fatal(err)
			}
			pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(tt.prefix) + `[a-zA-Z0-9]{12}$`)
			if !pattern.MatchString(id) {
				t.Errorf("%s id %q does not match %s", tt.name, id, pattern)
			}
		})
	}
}

func TestEventID_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := EventID()
		if err != nil {
			t.Fatalf("EventID() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestNew(t *testing.T) {
	for _, prefix := range []string{"", "x-", "long-prefix-"} {
		id, err := New(prefix)
		if err != nil {
			t.Fatalf("New(%q) error: %v", prefix, err)
		}
		pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `[a-zA-Z0-9]+$`)
		if !pattern.MatchString(id) || len(id) != len(prefix)+Length {
			t.Errorf("New(%q) = %q", prefix, id)
		}
	}
}
