package store

import (
	"context"
	"strings"
	"testing"

	"dataprof/pkg/profile"
)

type nullStore struct{ dsn string }

func (nullStore) EnsureSchema(context.Context) error { return nil }
func (nullStore) Save(context.Context, *profile.DatasetProfile) (int64, error) {
	return 0, nil
}
func (nullStore) Load(context.Context, int64) (*profile.DatasetProfile, error) {
	return nil, ErrNotFound
}
func (nullStore) List(context.Context, string) ([]Entry, error) { return nil, nil }
func (nullStore) Close()                                        {}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s did not panic", name)
		}
	}()
	fn()
}

func TestRegisterAndOpen(t *testing.T) {
	var gotDSN string
	Register("test-null", func(_ context.Context, cfg Config) (Store, error) {
		gotDSN = cfg.DSN
		return nullStore{dsn: cfg.DSN}, nil
	})

	s, err := Open(context.Background(), Config{Driver: "test-null", DSN: "dsn-value"})
	if err != nil {
		t.Fatalf("Open()=%v, want nil", err)
	}
	defer s.Close()

	if gotDSN != "dsn-value" {
		t.Fatalf("factory received DSN %q, want %q", gotDSN, "dsn-value")
	}
}

func TestOpenUnknownDriverListsRegistered(t *testing.T) {
	Register("test-listed", func(context.Context, Config) (Store, error) {
		return nullStore{}, nil
	})

	_, err := Open(context.Background(), Config{Driver: "bogus", DSN: "x"})
	if err == nil {
		t.Fatal("Open() succeeded for an unregistered driver")
	}
	if !strings.Contains(err.Error(), "bogus") || !strings.Contains(err.Error(), "test-listed") {
		t.Fatalf("Open() error %q, want the driver name and the registered list", err)
	}

	if _, err := Open(context.Background(), Config{DSN: "x"}); err == nil {
		t.Fatal("Open() succeeded with an empty driver")
	}
}

func TestRegisterPanics(t *testing.T) {
	factory := func(context.Context, Config) (Store, error) { return nullStore{}, nil }

	mustPanic(t, "empty driver", func() { Register("", factory) })
	mustPanic(t, "nil factory", func() { Register("test-nilfactory", nil) })

	Register("test-dup", factory)
	mustPanic(t, "duplicate driver", func() { Register("test-dup", factory) })
}

func TestDriversSorted(t *testing.T) {
	Register("test-zz", func(context.Context, Config) (Store, error) { return nullStore{}, nil })
	Register("test-aa", func(context.Context, Config) (Store, error) { return nullStore{}, nil })

	ds := Drivers()
	for i := 1; i < len(ds); i++ {
		if ds[i-1] >= ds[i] {
			t.Fatalf("Drivers()=%v, want strictly sorted names", ds)
		}
	}
}
