// Package gcs mirrors finished bundle artifacts to a Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Archiver writes bundle files to a GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func NewArchiver(ctx context.Context, bucketName string) (*Archiver, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs.NewArchiver: bucket name cannot be empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Archiver{client: client, bucket: client.Bucket(bucketName)}, nil
}

// SaveAtomically writes content to a GCS object only if it does not already
// exist. An existing object is not a failure; re-archiving is idempotent.
func (a *Archiver) SaveAtomically(ctx context.Context, objectName, content string) error {
	writer := a.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("skipping archive, object already exists", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS object %s: %w", objectName, err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("skipping archive, object already exists", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write for %s: %w", objectName, err)
	}
	return nil
}

func (a *Archiver) Close() error {
	return a.client.Close()
}
