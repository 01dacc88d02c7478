// Package archive stores finished session reports in a local bbolt file.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/phobologic/codeheal/internal/model"
)

const bucketName = "sessions"

var (
	// ErrNotFound means no archived session matches the id.
	ErrNotFound = errors.New("session not found")
	// ErrAmbiguous means an id prefix matches more than one session.
	ErrAmbiguous = errors.New("session id prefix is ambiguous")
)

// Entry is the listing view of an archived session.
type Entry struct {
	ID             string       `json:"id" yaml:"id"`
	Root           string       `json:"root" yaml:"root"`
	StartedAt      time.Time    `json:"started_at" yaml:"started_at"`
	DryRun         bool         `json:"dry_run" yaml:"dry_run"`
	Cycles         int          `json:"cycles" yaml:"cycles"`
	InitialHarmony float64      `json:"initial_harmony" yaml:"initial_harmony"`
	FinalHarmony   float64      `json:"final_harmony" yaml:"final_harmony"`
	Phase          model.Phase  `json:"phase" yaml:"phase"`
	Rhythm         model.Rhythm `json:"rhythm" yaml:"rhythm"`
}

// Store is an open archive.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the archive at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a session under its id. Session ids are time-ordered, so
// key order is chronological.
func (s *Store) Save(bs *model.BreathSession) error {
	if bs.ID == "" {
		return errors.New("session has no id")
	}
	data, err := json.Marshal(bs)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(bs.ID), data)
	})
}

// List returns up to limit sessions, newest first. A limit <= 0 lists all.
func (s *Store) List(limit int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var bs model.BreathSession
			if err := json.Unmarshal(v, &bs); err != nil {
				return fmt.Errorf("decoding session %s: %w", k, err)
			}
			out = append(out, entryOf(&bs))
		}
		return nil
	})
	return out, err
}

// Get returns the session whose id is or starts with id.
func (s *Store) Get(id string) (*model.BreathSession, error) {
	var bs *model.BreathSession
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return ErrNotFound
		}
		prefix := []byte(id)
		c := bucket.Cursor()
		k, v := c.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return ErrNotFound
		}
		if !bytes.Equal(k, prefix) {
			if next, _ := c.Next(); next != nil && bytes.HasPrefix(next, prefix) {
				return fmt.Errorf("%s: %w", id, ErrAmbiguous)
			}
		}
		bs = &model.BreathSession{}
		return json.Unmarshal(v, bs)
	})
	if err != nil {
		return nil, err
	}
	return bs, nil
}

func entryOf(bs *model.BreathSession) Entry {
	return Entry{
		ID:             bs.ID,
		Root:           bs.Root,
		StartedAt:      bs.StartedAt,
		DryRun:         bs.DryRun,
		Cycles:         len(bs.Cycles),
		InitialHarmony: bs.Initial.Harmony,
		FinalHarmony:   bs.Report.Harmony,
		Phase:          bs.Report.Phase,
		Rhythm:         bs.Summary.Rhythm,
	}
}
