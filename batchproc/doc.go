/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package batchproc executes collections of independent work items
// under a bounded concurrency ceiling with per-item retries.
//
// Three execution modes are provided:
//   - Process runs up to Options.MaxConcurrency items at once and
//     returns results in input order;
//   - ProcessBatches runs consecutive chunks, waiting for each chunk
//     to drain fully before the next one starts;
//   - ProcessStream delivers results through a channel in completion
//     order as soon as each item settles.
//
// A failing item never aborts the run. Its failure is recorded in the
// corresponding Result and every other item proceeds normally.
package batchproc
