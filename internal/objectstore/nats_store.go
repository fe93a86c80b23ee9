// Package objectstore stores transcripts and rendered audio in a NATS JetStream object
// store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	bucketDescriptionFmt = "voicechat %s bucket"
	errFmtBind           = "failed to bind to object store bucket '%s': %w"
	errFmtCreate         = "failed to create object store bucket '%s': %w"
)

// JetStreamStore implements core.ObjectStore on a JetStream object store bucket.
type JetStreamStore struct {
	store  nats.ObjectStore
	bucket string
}

// New creates the bucket, or binds to it when it already exists.
func New(js nats.JetStreamContext, bucket string) (*JetStreamStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf(bucketDescriptionFmt, bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})

	if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf(errFmtBind, bucket, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf(errFmtCreate, bucket, err)
	}

	return &JetStreamStore{store: store, bucket: bucket}, nil
}

// Bucket returns the bucket name.
func (s *JetStreamStore) Bucket() string {
	return s.bucket
}

// Download reads the whole object stored under key.
func (s *JetStreamStore) Download(ctx context.Context, key string) ([]byte, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (s *JetStreamStore) Upload(ctx context.Context, key string, data []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	_, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes the object stored under key.
func (s *JetStreamStore) Delete(ctx context.Context, key string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	err := s.store.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
