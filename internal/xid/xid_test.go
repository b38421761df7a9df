package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New("tx")
		if !strings.HasPrefix(id, "tx-") {
			t.Fatalf("missing prefix: %s", id)
		}
		if _, err := uuid.Parse(strings.TrimPrefix(id, "tx-")); err != nil {
			t.Fatalf("suffix is not a uuid: %s", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
