/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package vaultapi is a client for the Obsidian Local REST API plugin.
//
// The client talks to the vault over HTTPS (https://127.0.0.1:27124 by
// default) with Bearer authentication and covers file reads and writes,
// text and JsonLogic search, periodic notes, and file management.
//
// The underlying http.Client is assembled from a chain of round trippers:
// retries with backoff and Retry-After support, request IDs, user agent,
// client-side rate limiting, metrics, request logging, and Bearer auth.
// Each layer is configurable through Config.
package vaultapi
