// Package resilience groups the reliability patterns that sit between the
// dashboard and the gamification backend.
//
// Subpackages:
//   - classify: maps raw failures onto a fixed error taxonomy with
//     severity, retryability, and user-facing messages
//   - retry: exponential backoff with jitter, driven by classification
//   - circuitbreaker: consecutive-failure tripping with a single
//     half-open trial
package resilience
