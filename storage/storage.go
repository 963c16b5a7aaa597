// Package storage keeps the original bytes of uploaded resumes.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a driver.
type Config struct {
	Driver    string // local or s3
	LocalDir  string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// New builds the store named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
