// Package blobstore keeps uploaded input files in a NATS JetStream object store.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("blob not found")

// Store streams blobs in and out of one object store bucket.
type Store struct {
	nc     *nats.Conn
	bucket jetstream.ObjectStore
}

// Connect dials NATS and opens bucket, creating it when it does not exist.
func Connect(ctx context.Context, url, bucket string) (*Store, error) {
	nc, err := nats.Connect(url, nats.Name("pipeline-proxy"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	s, err := Open(ctx, nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// Open uses an existing connection. Close closes it.
func Open(ctx context.Context, nc *nats.Conn, bucket string) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	obs, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		obs, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "pipeline input files",
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open object store %s: %w", bucket, err)
	}
	return &Store{nc: nc, bucket: obs}, nil
}

// Put streams r under key and returns the number of bytes stored. Writing an
// existing key replaces it.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	info, err := s.bucket.Put(ctx, jetstream.ObjectMeta{Name: key}, r)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return int64(info.Size), nil
}

// Open returns a reader over the object stored under key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.bucket.Get(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return obj, nil
}

// Delete removes the object stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}

// Ping reports whether the NATS connection is usable.
func (s *Store) Ping() error {
	if s.nc == nil || !s.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Close drains the NATS connection.
func (s *Store) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
