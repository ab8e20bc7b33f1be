// Package store persists the account collection as a versioned JSON snapshot
// with a backup copy consulted when the primary file is missing or corrupt.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	snapshotVersion = 2

	primaryFile = "accounts.json"
	backupFile  = "accounts.backup.json"
)

// ErrDuplicateAccount is returned when an add would violate the
// (email, userId) uniqueness invariant.
var ErrDuplicateAccount = errors.New("account already exists")

// document is the on-disk layout: maps flatten to arrays for readability.
type document struct {
	Version  int        `json:"version"`
	Accounts []*Account `json:"accounts"`
	Groups   []*Group   `json:"groups"`
	Tags     []*Tag     `json:"tags"`
	Settings Settings   `json:"settings"`
}

// Store owns the one mutable snapshot. All mutations go through Update so
// writes are serialized whole-snapshot replacements.
type Store struct {
	dir  string
	mu   sync.RWMutex
	snap *Snapshot
}

// Open loads the snapshot from dir, falling back to the backup copy when the
// primary is unreadable, and starting empty when neither parses.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{dir: dir}

	doc, err := readDocument(filepath.Join(dir, primaryFile))
	if err != nil {
		log.Printf("⚠️ Primary snapshot unreadable (%v), trying backup", err)
		doc, err = readDocument(filepath.Join(dir, backupFile))
		if err != nil {
			log.Printf("📦 No usable snapshot found, starting empty")
			s.snap = emptySnapshot()
			return s, nil
		}
		log.Printf("✅ Recovered %d accounts from backup snapshot", len(doc.Accounts))
	}

	s.snap = fromDocument(doc)
	s.cleanReferences()
	log.Printf("📦 Loaded %d accounts, %d groups, %d tags", len(s.snap.Accounts), len(s.snap.Groups), len(s.snap.Tags))
	return s, nil
}

func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if doc.Accounts == nil {
		return nil, fmt.Errorf("%s has no accounts field", filepath.Base(path))
	}
	return &doc, nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Version:  snapshotVersion,
		Accounts: make(map[string]*Account),
		Groups:   make(map[string]*Group),
		Tags:     make(map[string]*Tag),
		Settings: Settings{AutoRefreshIntervalMin: 30, AutoRefreshConcurrency: 10},
	}
}

func fromDocument(doc *document) *Snapshot {
	snap := emptySnapshot()
	snap.Settings = doc.Settings
	if snap.Settings.AutoRefreshConcurrency <= 0 {
		snap.Settings.AutoRefreshConcurrency = 10
	}
	for _, a := range doc.Accounts {
		snap.Accounts[a.ID] = a
	}
	for _, g := range doc.Groups {
		snap.Groups[g.ID] = g
	}
	for _, t := range doc.Tags {
		snap.Tags[t.ID] = t
	}
	return snap
}

// cleanReferences drops dangling group and tag references so a loaded snapshot
// is always internally consistent.
func (s *Store) cleanReferences() {
	for _, a := range s.snap.Accounts {
		if a.GroupID != "" {
			if _, ok := s.snap.Groups[a.GroupID]; !ok {
				a.GroupID = ""
			}
		}
		kept := a.Tags[:0]
		for _, id := range a.Tags {
			if _, ok := s.snap.Tags[id]; ok {
				kept = append(kept, id)
			}
		}
		a.Tags = kept
	}
}

// Update runs fn against the snapshot under the write lock and persists the
// result. If fn returns an error nothing is saved.
func (s *Store) Update(fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.snap); err != nil {
		return err
	}
	return s.saveLocked()
}

// Flush re-persists the current snapshot. Called on shutdown, best-effort.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the snapshot via temp-file-then-rename, then refreshes the
// backup copy. Caller must hold the write lock.
func (s *Store) saveLocked() error {
	doc := document{
		Version:  s.snap.Version,
		Accounts: make([]*Account, 0, len(s.snap.Accounts)),
		Groups:   make([]*Group, 0, len(s.snap.Groups)),
		Tags:     make([]*Tag, 0, len(s.snap.Tags)),
		Settings: s.snap.Settings,
	}
	for _, a := range s.snap.Accounts {
		doc.Accounts = append(doc.Accounts, a)
	}
	for _, g := range s.snap.Groups {
		doc.Groups = append(doc.Groups, g)
	}
	for _, t := range s.snap.Tags {
		doc.Tags = append(doc.Tags, t)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	primary := filepath.Join(s.dir, primaryFile)
	tmp := primary + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, primary); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, backupFile), data, 0600); err != nil {
		// Primary is already durable; a stale backup is survivable.
		log.Printf("⚠️ Failed to write backup snapshot: %v", err)
	}
	return nil
}

// Accounts returns a copy of the account list.
func (s *Store) Accounts() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.snap.Accounts))
	for _, a := range s.snap.Accounts {
		c := *a
		out = append(out, &c)
	}
	return out
}

// Account returns a copy of one account, or nil if absent.
func (s *Store) Account(id string) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.snap.Accounts[id]
	if !ok {
		return nil
	}
	c := *a
	return &c
}

// Groups returns a copy of the group list.
func (s *Store) Groups() []*Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0, len(s.snap.Groups))
	for _, g := range s.snap.Groups {
		c := *g
		out = append(out, &c)
	}
	return out
}

// Tags returns a copy of the tag list.
func (s *Store) Tags() []*Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tag, 0, len(s.snap.Tags))
	for _, t := range s.snap.Tags {
		c := *t
		out = append(out, &c)
	}
	return out
}

// Settings returns the current global settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Settings
}

// DeleteGroup removes a group and clears it from every member account.
// Accounts themselves are never deleted here.
func (s *Store) DeleteGroup(id string) error {
	return s.Update(func(snap *Snapshot) error {
		delete(snap.Groups, id)
		for _, a := range snap.Accounts {
			if a.GroupID == id {
				a.GroupID = ""
				a.UpdatedAt = time.Now().UnixMilli()
			}
		}
		return nil
	})
}

// DeleteTag removes a tag and clears it from every tagged account.
func (s *Store) DeleteTag(id string) error {
	return s.Update(func(snap *Snapshot) error {
		delete(snap.Tags, id)
		for _, a := range snap.Accounts {
			kept := a.Tags[:0]
			for _, tid := range a.Tags {
				if tid != id {
					kept = append(kept, tid)
				}
			}
			if len(kept) != len(a.Tags) {
				a.UpdatedAt = time.Now().UnixMilli()
			}
			a.Tags = kept
		}
		return nil
	})
}
