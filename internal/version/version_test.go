package version

import (
	"strings"
	"testing"
)

func TestAccessorsMatchInfo(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must have defaults, got %q %q %q", v, c, d)
	}
	if GetVersion() != v || GetCommit() != c || GetDate() != d {
		t.Fatalf("accessors disagree with Info: %s %s %s", GetVersion(), GetCommit(), GetDate())
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"shipping-service", "version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
