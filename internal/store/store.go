// Package store persists serialized dataset profiles in a relational
// database. Backends register themselves under a driver name; the rest of
// the program talks to the Store interface and never imports a backend
// directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dataprof/pkg/profile"
)

// ErrNotFound is returned by Load when no profile has the requested id.
var ErrNotFound = errors.New("store: profile not found")

// Config selects and configures a backend.
//
// Edge cases:
//   - Driver must be non-empty and must match a registered backend.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Driver string
	DSN    string
}

// Store is a backend-agnostic interface for saving and retrieving
// profiles. Each backend stores the binary envelope as a blob plus a few
// queryable header columns, so listing never deserializes sketches.
type Store interface {
	// EnsureSchema creates the profiles table if it does not exist.
	// Idempotent and safe to run on every invocation.
	EnsureSchema(ctx context.Context) error

	// Save serializes p and inserts one row, returning the assigned id.
	Save(ctx context.Context, p *profile.DatasetProfile) (int64, error)

	// Load reads the envelope with the given id and decodes it.
	//
	// Errors:
	//   - ErrNotFound when no row has that id.
	Load(ctx context.Context, id int64) (*profile.DatasetProfile, error)

	// List returns stored profile headers, newest first. An empty name
	// lists everything; otherwise only profiles with that dataset name.
	List(ctx context.Context, name string) ([]Entry, error)

	// Close releases backend resources. Treat as "call once".
	Close()
}

// Entry is one stored profile's header row.
type Entry struct {
	ID               int64
	Name             string
	SessionID        string
	SessionTimestamp time.Time
	DataTimestamp    time.Time // zero when the profile carried none
	RowCount         uint64
	CreatedAt        time.Time
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a driver name. Call it from
// an init() function in the backend package.
//
// Panics:
//   - if driver is empty.
//   - if f is nil.
//   - if driver is already registered. This fails fast instead of letting
//     two backends silently race for the same name.
func Register(driver string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if driver == "" {
		panic("store: Register called with empty driver")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("store: factory already registered for driver=%q", driver))
	}

	factories[driver] = f
}

// Open constructs a Store using the registered backend factory.
//
// Errors:
//   - cfg.Driver empty or unregistered; the message lists the registered
//     drivers so a typo is obvious.
//   - whatever the backend factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("store: missing driver (registered: %s)", driverList())
	}

	mu.RLock()
	f := factories[cfg.Driver]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("store: unsupported driver %q (registered: %s)", cfg.Driver, driverList())
	}
	return f(ctx, cfg)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for d := range factories {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func driverList() string {
	ds := Drivers()
	if len(ds) == 0 {
		return "none"
	}
	return strings.Join(ds, ", ")
}
