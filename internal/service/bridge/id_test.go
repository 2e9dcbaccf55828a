package bridge

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

var generatedID = regexp.MustCompile(`^\d{8}_\d{6}_[0-9a-f]{8}$`)

func TestIDGenerator_Next(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	g := &IDGenerator{now: func() time.Time { return fixed }}

	a, b := g.Next(), g.Next()
	if !generatedID.MatchString(a) {
		t.Fatalf("id %q does not match the generated format", a)
	}
	if !strings.HasPrefix(a, "20260314_092653_") {
		t.Errorf("id %q does not start with the timestamp", a)
	}
	if a == b {
		t.Errorf("expected unique ids within one second, got %q twice", a)
	}
	if !ValidSessionID(a) {
		t.Errorf("generated id %q is not a valid session id", a)
	}
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"20260314_092653", true},
		{"visit-42.a_b", true},
		{strings.Repeat("a", 128), true},
		{"", false},
		{strings.Repeat("a", 129), false},
		{"../etc", false},
		{"a/b", false},
		{"has space", false},
		{"..", false},
		{".", false},
	}
	for _, tt := range tests {
		if got := ValidSessionID(tt.id); got != tt.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
