package identity

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/heraldbot/herald/internal/fsstore"
)

// AliasStore reads the persisted reverse mapping from an aliased identity to
// the phone number it represents. Entries are written by the transport
// collaborator as a side effect of session activity; absence of an entry is
// a normal condition, not an error.
type AliasStore interface {
	PhoneForAlias(ctx context.Context, aliasDigits string) (string, bool, error)
}

// FileAliasStore reads per-alias reverse-mapping documents from the auth
// state directory, one file per alias: lid-mapping-<digits>_reverse.json
// holding the phone number as a JSON string.
type FileAliasStore struct {
	dir string
}

func NewFileAliasStore(dir string) *FileAliasStore {
	return &FileAliasStore{dir: dir}
}

func (s *FileAliasStore) PhoneForAlias(ctx context.Context, aliasDigits string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	aliasDigits = Normalize(aliasDigits)
	if aliasDigits == "" {
		return "", false, nil
	}
	var phone string
	found, err := fsstore.ReadJSON(s.path(aliasDigits), &phone)
	if err != nil {
		return "", false, fmt.Errorf("alias mapping for %s: %w", aliasDigits, err)
	}
	if !found || Normalize(phone) == "" {
		return "", false, nil
	}
	return phone, true, nil
}

func (s *FileAliasStore) path(aliasDigits string) string {
	return filepath.Join(s.dir, "lid-mapping-"+aliasDigits+"_reverse.json")
}

// WriteAlias persists one reverse mapping. The resolver never calls this;
// it exists for the transport side, which owns the mapping's lifecycle.
func (s *FileAliasStore) WriteAlias(aliasDigits, phone string) error {
	aliasDigits = Normalize(aliasDigits)
	if aliasDigits == "" || Normalize(phone) == "" {
		return fmt.Errorf("alias mapping requires digits on both sides")
	}
	return fsstore.WriteJSONAtomic(s.path(aliasDigits), phone)
}
