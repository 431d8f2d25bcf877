package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is the local node's keypair and the peer ID derived from it.
type Identity struct {
	PrivKey crypto.PrivKey
	ID      peer.ID
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Identity, error) {
	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return FromKey(privKey)
}

// FromKey wraps an existing private key.
func FromKey(privKey crypto.PrivKey) (*Identity, error) {
	id, err := peer.IDFromPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer ID: %w", err)
	}
	return &Identity{PrivKey: privKey, ID: id}, nil
}

// Save writes the private key to path.
func (i *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	keyBytes, err := crypto.MarshalPrivateKey(i.PrivKey)
	if err != nil {
		return err
	}
	return os.WriteFile(path, keyBytes, 0600)
}

// Load reads the private key stored at path.
// If the file doesn't exist, it generates a new identity and saves it there.
func Load(path string) (*Identity, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := id.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save identity: %w", err)
		}
		return id, nil
	}

	privKey, err := crypto.UnmarshalPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity %s: %w", path, err)
	}
	return FromKey(privKey)
}

func (i *Identity) String() string {
	return i.ID.String()
}

// Short returns the 12 character prefix used in console lines.
func (i *Identity) Short() string {
	return Shorten(i.ID)
}

// Shorten trims a peer ID for display.
func Shorten(id peer.ID) string {
	s := id.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
