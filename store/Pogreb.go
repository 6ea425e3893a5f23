package store

import (
	"encoding/binary"
	"io"
	"log"
	"sync"
	"time"

	"github.com/akrylysov/pogreb"
)

// expirePrefix namespaces the sidecar expiration-timestamp records so they
// never collide with a real data key.
const expirePrefix = "\x00expire:"

// PogrebStore is a key/value store backed by akrylysov/pogreb, used for the
// encrypted identity keystore.
type PogrebStore struct {
	mutex sync.Mutex
	db    *pogreb.DB
}

// NewPogrebStore opens (or creates) a Pogreb database at filename.
func NewPogrebStore(filename string) (*PogrebStore, error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{db: db}, nil
}

// Set stores the key/value pair without expiration.
func (s *PogrebStore) Set(key []byte, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_ = s.db.Delete(expireKey(key))
	return s.db.Put(key, data)
}

// StoreExpire stores the key/value pair and records its expiration time in a
// sidecar record; actual deletion happens on the next ExpireKeys call.
func (s *PogrebStore) StoreExpire(key []byte, data []byte, expiration time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.db.Put(key, data); err != nil {
		return err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(expiration.UnixNano()))
	return s.db.Put(expireKey(key), buf[:])
}

// Get returns the value for the key if present.
func (s *PogrebStore) Get(key []byte) (data []byte, found bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	value, err := s.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Delete deletes a key/value pair and any expiration record.
func (s *PogrebStore) Delete(key []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_ = s.db.Delete(key)
	_ = s.db.Delete(expireKey(key))
}

// ExpireKeys deletes all keys whose expiration time has passed.
func (s *PogrebStore) ExpireKeys() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := uint64(time.Now().UnixNano())

	var expired [][]byte
	it := s.db.Items()
	for {
		k, v, err := it.Next()
		if err != nil {
			break
		}
		if len(k) <= len(expirePrefix) || string(k[:len(expirePrefix)]) != expirePrefix {
			continue
		}
		if len(v) != 8 {
			continue
		}
		if binary.BigEndian.Uint64(v) <= now {
			expired = append(expired, k[len(expirePrefix):])
		}
	}

	for _, k := range expired {
		_ = s.db.Delete(k)
		_ = s.db.Delete(expireKey(k))
	}
}

// Count returns the number of records in the database, including the
// internal expiration sidecar records.
func (s *PogrebStore) Count() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return uint64(s.db.Count())
}

// Close closes the underlying database file.
func (s *PogrebStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.db.Close()
}

func expireKey(key []byte) []byte {
	out := make([]byte, 0, len(expirePrefix)+len(key))
	out = append(out, expirePrefix...)
	out = append(out, key...)
	return out
}
