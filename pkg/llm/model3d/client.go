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

// Package model3d implements the room 3D-model job client: submit a source
// image, poll until the provider finishes, download the artifact.
package model3d

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPollInterval = 5 * time.Second
	// Model generation regularly takes minutes; uploads are bounded by this
	// overall deadline.
	defaultJobDeadline = 10 * time.Minute
)

// Config holds configuration for the 3D model client.
type Config struct {
	APIKey       string
	Endpoint     string
	Model        string
	PollInterval time.Duration
	JobDeadline  time.Duration
}

// Client drives image-to-3D jobs against an async provider API.
type Client struct {
	apiKey       string
	endpoint     string
	model        string
	pollInterval time.Duration
	jobDeadline  time.Duration
	httpClient   *http.Client
}

// New creates a 3D model client.
func New(config Config) *Client {
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.JobDeadline == 0 {
		config.JobDeadline = defaultJobDeadline
	}
	return &Client{
		apiKey:       config.APIKey,
		endpoint:     strings.TrimSuffix(config.Endpoint, "/"),
		model:        config.Model,
		pollInterval: config.PollInterval,
		jobDeadline:  config.JobDeadline,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
}

// GenerateModel runs the whole submit/poll/download cycle for a room image
// and returns the model bytes and file extension (glb, zip, ply).
func (c *Client) GenerateModel(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.jobDeadline)
	defer cancel()

	jobID, err := c.Submit(ctx, imageURL)
	if err != nil {
		return nil, "", err
	}
	modelURL, err := c.Poll(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	return c.download(ctx, modelURL)
}

// Submit starts an image-to-3D job and returns its id.
func (c *Client) Submit(ctx context.Context, imageURL string) (string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model":     c.model,
		"image_url": imageURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/jobs", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var job struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &job); err != nil {
		return "", fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("job response missing id")
	}
	return job.ID, nil
}

// Poll waits for the job to complete and returns the artifact URL.
func (c *Client) Poll(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		r, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/jobs/"+jobID, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create poll request: %w", err)
		}
		r.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(r)
		if err != nil {
			return "", fmt.Errorf("poll request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read poll response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("poll error (status %d): %s", resp.StatusCode, string(body))
		}

		var status struct {
			Status   string `json:"status"`
			ModelURL string `json:"model_url"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return "", fmt.Errorf("failed to unmarshal poll response: %w", err)
		}
		switch status.Status {
		case "completed":
			if status.ModelURL == "" {
				return "", fmt.Errorf("job completed but no model url")
			}
			return status.ModelURL, nil
		case "pending", "queued", "processing":
			continue
		default:
			return "", fmt.Errorf("model job %s failed: %s", jobID, status.Error)
		}
	}
}

func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	r, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.httpClient.Do(r)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download error (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read model bytes: %w", err)
	}

	ext := "glb"
	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if i := strings.LastIndex(clean, "."); i >= 0 {
		switch e := clean[i+1:]; e {
		case "zip", "glb", "ply":
			ext = e
		}
	}
	return data, ext, nil
}
