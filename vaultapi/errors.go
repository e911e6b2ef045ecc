/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is an error response of the Obsidian Local REST API.
// The plugin reports errors as JSON bodies with a five-digit error code
// whose first three digits repeat the HTTP status.
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// ErrorCode is the plugin's error code, e.g. 40404 for a missing file.
	ErrorCode int `json:"errorCode"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != 0 {
		return fmt.Sprintf("vault api error %d: %s", e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("vault api error: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError for a missing file or directory.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

const maxErrorBodySize = 64 * 1024

// errorFromResponse builds an APIError from a non-2xx response.
// The response body is consumed but not closed.
func errorFromResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}
	if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
		if len(body) > 0 && jsonErr != nil {
			apiErr.Message = string(body)
		}
	}
	return apiErr
}
