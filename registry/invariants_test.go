package registry

import (
	"context"
	"path/filepath"
	"testing"
)

// Set-semantics invariants: duplicate adds grow size by one, removing a
// non-member changes nothing, and member order is insertion order.
func TestMembershipIsASet(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "subgroups.json"))

	size, err := store.Add(ctx, scope, "ops", []string{"1111111111@s.whatsapp.net", "1111111111@s.whatsapp.net"})
	if err != nil {
		t.Fatal(err)
	}
	if size != 1 {
		t.Fatalf("duplicate add size = %d, want 1", size)
	}

	size, err = store.Remove(ctx, scope, "ops", []string{"9999999999@s.whatsapp.net"})
	if err != nil {
		t.Fatal(err)
	}
	if size != 1 {
		t.Fatalf("non-member remove size = %d, want 1", size)
	}

	if _, err := store.Add(ctx, scope, "ops", []string{"3333333333@s.whatsapp.net", "2222222222@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}
	members, err := store.Show(ctx, scope, "ops")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1111111111@s.whatsapp.net", "3333333333@s.whatsapp.net", "2222222222@s.whatsapp.net"}
	if len(members) != len(want) {
		t.Fatalf("Show() = %v", members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Fatalf("Show()[%d] = %q, want %q", i, members[i], want[i])
		}
	}
}
