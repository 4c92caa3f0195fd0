// Package config loads typed configuration structs from environment
// variables. It wraps github.com/joho/godotenv and github.com/caarlos0/env:
// a `.env` file in the working directory is applied once per process, then
// struct fields are populated from their `env` tags. Each configuration type
// is parsed at most once and cached, so every component can call Load for
// its own Config without coordination.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	mu     sync.Mutex
	loaded = make(map[string]any)

	dotenvOnce sync.Once
)

// Load populates v from the environment, returning the cached copy when this
// configuration type was already parsed.
//
// Example:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		// The .env file is optional; a missing one is not an error.
		_ = godotenv.Load()
	})

	key := typeName[T]()

	mu.Lock()
	defer mu.Unlock()

	if cached, ok := loaded[key]; ok {
		*v = cached.(T)
		return nil
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	loaded[key] = *v // store a copy so callers cannot mutate the cache
	return nil
}

// MustLoad works like Load but panics on failure. Used at startup for
// configuration the service cannot run without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: failed to load %s: %v", typeName[T](), err))
	}
}

func typeName[T any]() string {
	t := reflect.TypeOf(*new(T))
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
