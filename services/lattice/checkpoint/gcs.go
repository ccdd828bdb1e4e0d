// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader copies a stored checkpoint off the machine.
type Uploader interface {
	Upload(ctx context.Context, meta Metadata, data []byte) (string, error)
}

// GCSUploader writes checkpoints to a Cloud Storage bucket as
// <prefix>/<id>.json.gz, with the metadata fields as object metadata.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSUploader creates a Cloud Storage client.
//
// Inputs:
//
//	ctx - Context for client creation.
//	bucket - Target bucket. Required.
//	prefix - Object name prefix. May be empty.
//	credentialsFile - Service account key. Empty uses application default
//	credentials.
//	logger - Optional.
//
// Outputs:
//
//	*GCSUploader - Call Close when done.
//	error - Missing bucket, missing key file, or client creation failure.
func NewGCSUploader(ctx context.Context, bucket, prefix, credentialsFile string, logger *slog.Logger) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSUploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "lattice.checkpoint.gcs")),
	}, nil
}

// ObjectName returns the object name used for meta.
func (u *GCSUploader) ObjectName(meta Metadata) string {
	return objectName(u.prefix, meta)
}

func objectName(prefix string, meta Metadata) string {
	return path.Join(prefix, meta.ID.String()+".json.gz")
}

// Upload implements Uploader and returns the gs:// URI written.
func (u *GCSUploader) Upload(ctx context.Context, meta Metadata, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "lattice.checkpoint.GCSUploader.Upload")
	defer span.End()

	name := u.ObjectName(meta)
	w := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/gzip"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	w.Metadata = objectMetadata(meta)

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		span.RecordError(err)
		return "", fmt.Errorf("copy checkpoint %s to gs://%s/%s: %w", meta.ID, u.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("close GCS writer for %s: %w", name, err)
	}

	uri := "gs://" + u.bucket + "/" + name
	u.logger.Info("checkpoint uploaded",
		slog.String("id", meta.ID.String()),
		slog.String("uri", uri),
		slog.Int("bytes", len(data)),
	)
	return uri, nil
}

// Close releases the client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

func objectMetadata(meta Metadata) map[string]string {
	return map[string]string{
		"checkpoint-id":     meta.ID.String(),
		"label":             meta.Label,
		"generation":        strconv.FormatInt(meta.Generation, 10),
		"content-sha256":    meta.ContentHash,
		"schema-version":    meta.SchemaVersion,
		"uncompressed-size": strconv.FormatInt(meta.UncompressedSize, 10),
	}
}
