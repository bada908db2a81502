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

package image

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
	fluxDefaultEndpoint = "https://api.bfl.ai/v1/flux-dev"
	fluxWidth           = 1024
	fluxHeight          = 576
	fluxPollInterval    = 500 * time.Millisecond
)

// FluxClient renders images through the Flux Schnell API, which returns a job
// id that is polled until the sample is ready.
type FluxClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// FluxConfig holds configuration for the Flux image client.
type FluxConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// NewFluxClient creates a Flux image client.
func NewFluxClient(config FluxConfig) *FluxClient {
	if config.Endpoint == "" {
		config.Endpoint = fluxDefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &FluxClient{
		apiKey:     config.APIKey,
		endpoint:   config.Endpoint,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Generate submits a render job, polls it to completion, and downloads the
// sample. Images are rendered at 1024x576.
func (c *FluxClient) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"prompt": prompt,
		"width":  fluxWidth,
		"height": fluxHeight,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-key", c.apiKey)

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return nil, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	submitBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(submitBody))
	}

	var job struct {
		ID         string `json:"id"`
		PollingURL string `json:"polling_url"`
	}
	if err := json.Unmarshal(submitBody, &job); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.PollingURL == "" {
		return nil, "", fmt.Errorf("job response missing polling url")
	}

	sampleURL, err := c.poll(ctx, job.PollingURL)
	if err != nil {
		return nil, "", err
	}
	return c.download(ctx, sampleURL)
}

func (c *FluxClient) poll(ctx context.Context, pollingURL string) (string, error) {
	ticker := time.NewTicker(fluxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		r, err := http.NewRequestWithContext(ctx, "GET", pollingURL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create poll request: %w", err)
		}
		r.Header.Set("x-key", c.apiKey)

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
			Status string `json:"status"`
			Result *struct {
				Sample string `json:"sample"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return "", fmt.Errorf("failed to unmarshal poll response: %w", err)
		}
		switch status.Status {
		case "Ready":
			if status.Result == nil || status.Result.Sample == "" {
				return "", fmt.Errorf("job ready but no sample url")
			}
			return status.Result.Sample, nil
		case "Pending", "Queued", "Processing":
			continue
		default:
			return "", fmt.Errorf("image job failed with status %q", status.Status)
		}
	}
}

func (c *FluxClient) download(ctx context.Context, url string) ([]byte, string, error) {
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
		return nil, "", fmt.Errorf("failed to read image bytes: %w", err)
	}
	ext := "jpg"
	if strings.Contains(resp.Header.Get("Content-Type"), "webp") {
		ext = "webp"
	} else if strings.Contains(resp.Header.Get("Content-Type"), "png") {
		ext = "png"
	}
	return data, ext, nil
}
