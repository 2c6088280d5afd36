// Package flag defines the core flag data model: keys, records, tombstones,
// and write intents. Invariants (rollout range, non-empty identifiers, the
// allowed environment set) are enforced here at construction so the rest of
// the system never handles an invalid record.
package flag

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRollout is returned when a rollout percentage is outside 0-100.
var ErrInvalidRollout = errors.New("rollout must be between 0 and 100")

// ErrEmptyName is returned when a flag name is empty or whitespace.
var ErrEmptyName = errors.New("flag name must not be empty")

// ErrInvalidEnvironment is returned when the environment is not one of the
// allowed values.
var ErrInvalidEnvironment = errors.New("environment must be one of: dev, staging, prod, development, production")

const maxNameLength = 100

// Environments lists the accepted environment names. Values are compared
// case-insensitively and stored lowercased.
var Environments = []string{"dev", "staging", "prod", "development", "production"}

// Key identifies a flag: at most one live record exists per (Name, Env) pair.
type Key struct {
	Name string `json:"name"`
	Env  string `json:"env"`
}

// NewKey validates and normalizes a flag key. The environment is lowercased.
func NewKey(name, env string) (Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Key{}, ErrEmptyName
	}
	if len(name) > maxNameLength {
		return Key{}, fmt.Errorf("flag name exceeds %d characters", maxNameLength)
	}
	env = strings.ToLower(strings.TrimSpace(env))
	if !validEnv(env) {
		return Key{}, ErrInvalidEnvironment
	}
	return Key{Name: name, Env: env}, nil
}

// String renders the key as "name@env", used for log fields and map keys.
func (k Key) String() string { return k.Name + "@" + k.Env }

func validEnv(env string) bool {
	for _, e := range Environments {
		if env == e {
			return true
		}
	}
	return false
}

// Record is the current definition of a flag. Version strictly increases per
// key on every mutation; a deleted record survives only as a tombstone in the
// change feed.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Key       Key       `json:"key"`
	Enabled   bool      `json:"enabled"`
	Rollout   int       `json:"rollout"`
	Version   int64     `json:"version"`
	Deleted   bool      `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the record invariants. Tombstones skip the rollout check
// since their payload fields are meaningless.
func (r Record) Validate() error {
	if _, err := NewKey(r.Key.Name, r.Key.Env); err != nil {
		return err
	}
	if r.Deleted {
		return nil
	}
	if r.Rollout < 0 || r.Rollout > 100 {
		return ErrInvalidRollout
	}
	return nil
}

// Tombstone returns the terminal deleted state for this record at the given
// version. The payload fields are zeroed; only identity and version survive.
func (r Record) Tombstone(version int64, at time.Time) Record {
	return Record{
		ID:        r.ID,
		Key:       r.Key,
		Deleted:   true,
		Version:   version,
		UpdatedAt: at,
	}
}

// Intent is a validated write request handed to the coordinator. Nil fields
// mean "leave unchanged"; Delete wins over the other fields.
type Intent struct {
	Key     Key   `json:"key"`
	Enabled *bool `json:"enabled,omitempty"`
	Rollout *int  `json:"rollout,omitempty"`
	Delete  bool  `json:"delete,omitempty"`
}

// Validate rejects malformed intents before any side effect happens.
func (in Intent) Validate() error {
	if _, err := NewKey(in.Key.Name, in.Key.Env); err != nil {
		return err
	}
	if in.Rollout != nil && (*in.Rollout < 0 || *in.Rollout > 100) {
		return ErrInvalidRollout
	}
	return nil
}
