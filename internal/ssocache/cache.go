// Package ssocache reads and writes the IDE's local SSO token cache under
// ~/.aws/sso/cache, keyed by SHA1 of the JSON-encoded start URL.
package ssocache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// DefaultStartURL is the Builder ID start URL Kiro caches tokens under when
// no IdC start URL is configured.
const DefaultStartURL = "https://view.awsapps.com/start"

// Record is the fixed on-disk JSON layout the IDE reads.
type Record struct {
	StartURL     string `json:"startUrl"`
	Region       string `json:"region"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"` // RFC3339
	AuthMethod   string `json:"authMethod,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// Cache reads/writes records in a directory.
type Cache struct {
	dir string
}

// New returns a Cache rooted at dir; empty dir means ~/.aws/sso/cache.
func New(dir string) (*Cache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".aws", "sso", "cache")
	}
	return &Cache{dir: dir}, nil
}

// Key derives the cache file name: SHA1 over the JSON document {"startUrl": url}.
func Key(startURL string) string {
	doc, _ := json.Marshal(map[string]string{"startUrl": startURL})
	sum := sha1.Sum(doc)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(startURL string) string {
	return filepath.Join(c.dir, Key(startURL)+".json")
}

// Read loads the cached record for a start URL.
func (c *Cache) Read(startURL string) (*Record, error) {
	data, err := os.ReadFile(c.path(startURL))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse sso cache: %w", err)
	}
	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("sso cache has no refreshToken")
	}
	return &rec, nil
}

// Write stores the record for its start URL, creating the directory if needed.
func (c *Cache) Write(rec *Record) error {
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(rec.StartURL), data, 0600)
}

// FromCredentials builds a Record from a stored credential set.
func FromCredentials(startURL string, cred store.Credentials, expiresAt string) *Record {
	return &Record{
		StartURL:     startURL,
		Region:       cred.Region,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		ExpiresAt:    expiresAt,
		AuthMethod:   string(cred.AuthMethod),
		Provider:     string(cred.Provider),
	}
}
