package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	bolt "go.etcd.io/bbolt"
)

var bucketGrants = []byte("grants")

// BoltGrants persists capability grants in a bbolt database.
type BoltGrants struct {
	db *bolt.DB
}

func OpenGrants(path string) (*BoltGrants, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("grant db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketGrants)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltGrants{db: db}, nil
}

func (s *BoltGrants) GetGrant(id string) (capability.Token, bool, error) {
	var (
		out capability.Token
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketGrants).Get([]byte(id))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &out)
	})
	return out, ok, err
}

func (s *BoltGrants) PutGrant(t capability.Token) error {
	if t.ID == "" {
		return errors.New("grant id is required")
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGrants).Put([]byte(t.ID), b)
	})
}

func (s *BoltGrants) DeleteGrant(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGrants).Delete([]byte(id))
	})
}

// List returns all grants ordered by path.
func (s *BoltGrants) List() ([]capability.Token, error) {
	out := make([]capability.Token, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGrants).ForEach(func(_, v []byte) error {
			var t capability.Token
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *BoltGrants) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
