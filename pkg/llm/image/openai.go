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

// Package image implements the room image clients. Two providers are
// supported: OpenAI's images API and Flux Schnell.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openaiDefaultEndpoint = "https://api.openai.com/v1/images/generations"
	openaiDefaultModel    = "dall-e-3"
	openaiDefaultSize     = "1792x1024"
	defaultTimeout        = 120 * time.Second
)

// OpenAIClient renders images through OpenAI's images API.
type OpenAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	size       string
	httpClient *http.Client
}

// OpenAIConfig holds configuration for the OpenAI image client.
type OpenAIConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Size     string
	Timeout  time.Duration
}

// NewOpenAIClient creates an OpenAI image client.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.Model == "" {
		config.Model = openaiDefaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = openaiDefaultEndpoint
	}
	if config.Size == "" {
		config.Size = openaiDefaultSize
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &OpenAIClient{
		apiKey:     config.APIKey,
		model:      config.Model,
		endpoint:   config.Endpoint,
		size:       config.Size,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Generate renders one image and returns its bytes as png.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model":           c.model,
		"prompt":          prompt,
		"n":               1,
		"size":            c.size,
		"response_format": "b64_json",
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return nil, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, "", fmt.Errorf("empty image response")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image data: %w", err)
	}
	return data, "png", nil
}
