// Copyright 2026 The Fablegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package objectstore uploads room images and room 3D models to bucketed
// HTTP object storage and builds their public URLs.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
)

const (
	// ImageBucket holds rendered room images.
	ImageBucket = "room-images"
	// ModelBucket holds generated room 3D models.
	ModelBucket = "room-models"

	uploadTimeout = 10 * time.Second
	maxAttempts   = 3
)

// Config holds configuration for the object store client.
type Config struct {
	BaseURL    string
	ServiceKey string
}

// Client uploads objects over the storage HTTP API.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// New creates an object store client.
func New(config Config) *Client {
	return &Client{
		baseURL:    config.BaseURL,
		serviceKey: config.ServiceKey,
		httpClient: &http.Client{Timeout: uploadTimeout},
	}
}

// UploadRoomImage stores a room image and returns its public URL with a
// cache-busting version parameter.
func (c *Client) UploadRoomImage(ctx context.Context, roomID string, data []byte, ext string) (string, error) {
	path := fmt.Sprintf("rooms/%s.%s", roomID, ext)
	if err := c.upload(ctx, ImageBucket, path, data, contentTypeFor(ext)); err != nil {
		return "", err
	}
	return c.publicURL(ImageBucket, path), nil
}

// UploadRoomModel stores a room 3D model and returns its public URL with a
// cache-busting version parameter.
func (c *Client) UploadRoomModel(ctx context.Context, roomID string, data []byte, ext string) (string, error) {
	path := fmt.Sprintf("models/%s.%s", roomID, ext)
	if err := c.upload(ctx, ModelBucket, path, data, contentTypeFor(ext)); err != nil {
		return "", err
	}
	return c.publicURL(ModelBucket, path), nil
}

// upload PUTs the object, retrying transient failures with exponential
// backoff up to 3 attempts.
func (c *Client) upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create upload request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		req.Header.Set("x-upsert", "true")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("upload error (status %d): %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(2*time.Second),
	), maxAttempts-1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		log.Warn("object upload failed",
			zap.String("bucket", bucket), zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// publicURL builds the client-facing URL; the unix-timestamp version
// parameter defeats stale CDN caches after re-uploads.
func (c *Client) publicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s?v=%d",
		c.baseURL, bucket, path, time.Now().Unix())
}

func contentTypeFor(ext string) string {
	switch ext {
	case "webp":
		return "image/webp"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "zip":
		return "application/zip"
	case "glb":
		return "model/gltf-binary"
	case "ply":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}
