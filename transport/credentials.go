package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/heraldbot/herald/internal/fsstore"
)

// ErrCredentialsCorrupt marks persisted credentials that fail to parse.
// The session manager recovers by purging and pairing fresh.
var ErrCredentialsCorrupt = errors.New("transport: credentials corrupt")

// Credentials is the summary the resilience manager inspects before each
// connection attempt. SelfID is the address the registration is bound to.
type Credentials struct {
	Registered bool   `json:"registered"`
	SelfID     string `json:"self_id"`
}

// CredentialStore exposes the collaborator-owned credential state to the
// session manager: inspection before connecting and the purge-on-corruption
// recovery path. All other credential writes stay with the collaborator.
type CredentialStore interface {
	// Inspect reports the persisted credentials, found=false when no
	// credential state exists yet, and ErrCredentialsCorrupt when the
	// state exists but cannot be parsed.
	Inspect(ctx context.Context) (Credentials, bool, error)

	// Purge removes all credential state so the next attempt pairs fresh.
	Purge(ctx context.Context) error
}

const credsFileName = "creds.json"

type credsFile struct {
	Registered bool `json:"registered"`
	Me         struct {
		ID string `json:"id"`
	} `json:"me"`
}

// FileCredentialStore keeps the credential summary as creds.json inside the
// auth state directory. Purge removes the whole directory, which also drops
// whatever session secrets the protocol client keeps alongside.
type FileCredentialStore struct {
	dir string
}

func NewFileCredentialStore(dir string) *FileCredentialStore {
	return &FileCredentialStore{dir: dir}
}

func (s *FileCredentialStore) path() string {
	return filepath.Join(s.dir, credsFileName)
}

func (s *FileCredentialStore) Inspect(ctx context.Context) (Credentials, bool, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, false, err
	}
	var doc credsFile
	found, err := fsstore.ReadJSON(s.path(), &doc)
	if err != nil {
		return Credentials{}, false, fmt.Errorf("%w: %v", ErrCredentialsCorrupt, err)
	}
	if !found {
		return Credentials{}, false, nil
	}
	return Credentials{Registered: doc.Registered, SelfID: doc.Me.ID}, true, nil
}

func (s *FileCredentialStore) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("purge credential dir %s: %w", s.dir, err)
	}
	return nil
}

// Save records the credential summary. Called by the transport adapter when
// the platform reports updated credentials, never by the core.
func (s *FileCredentialStore) Save(creds Credentials) error {
	var doc credsFile
	doc.Registered = creds.Registered
	doc.Me.ID = creds.SelfID
	return fsstore.WriteJSONAtomic(s.path(), doc)
}
