// Package procerror defines the error classes produced by the processing
// pipeline and helpers to classify them for cycle reports and retry decisions.
package procerror

import (
	"errors"
	"fmt"
)

// Report bucket names, one per error class.
const (
	BucketConnection        = "CONNECTION_FAILURE"
	BucketAuth              = "AUTH_FAILURE"
	BucketNavigation        = "NAVIGATION_FAILURE"
	BucketDownloadTimeout   = "DOWNLOAD_TIMEOUT"
	BucketBrowserStart      = "BROWSER_START_FAILURE"
	BucketExtraction        = "EXTRACTION_FAILURE"
	BucketUnsupportedFormat = "UNSUPPORTED_FORMAT"
	BucketSchemaMismatch    = "SCHEMA_MISMATCH"
	BucketDeliveryRejected  = "DELIVERY_REJECTED"
	BucketDeliveryTransient = "DELIVERY_TRANSIENT"
	BucketUnknown           = "UNKNOWN"
)

// ConnectionError represents a network-level mailbox failure. It is retryable
// only at cycle level, by the scheduler's next run.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthError represents a mailbox authentication failure. Fatal for the cycle,
// never retried automatically.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NavigationError represents a failed page interaction during an automated
// download (element not found, navigation refused).
type NavigationError struct {
	Target string
	Err    error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation failed for %s: %v", e.Target, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// DownloadTimeoutError indicates a download did not land on disk within the
// configured wait.
type DownloadTimeoutError struct {
	Target  string
	Seconds float64
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download from %s did not complete within %.0fs", e.Target, e.Seconds)
}

// BrowserStartError indicates the browser process could not be launched.
// Fatal for the cycle.
type BrowserStartError struct {
	Err error
}

func (e *BrowserStartError) Error() string {
	return fmt.Sprintf("browser could not be started: %v", e.Err)
}

func (e *BrowserStartError) Unwrap() error {
	return e.Err
}

// ExtractionError represents a corrupt or partial archive. Retryable at the
// download stage.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction of %s failed: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// UnsupportedFormatError represents content that matches no known archive
// signature, regardless of its file extension.
type UnsupportedFormatError struct {
	Path string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported archive format: %s", e.Path)
}

// SchemaMismatchError indicates a CSV file is missing a required mapped
// column. Reported per file; other files in the same candidate continue.
type SchemaMismatchError struct {
	FilePath string
	Column   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: required column %q not found", e.FilePath, e.Column)
}

// DeliveryError represents a failed webhook delivery. Permanent deliveries
// (4xx) are never retried; transient ones (5xx, network) are retried under
// the configured policy.
type DeliveryError struct {
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its report bucket.
func Classify(err error) string {
	var (
		connErr     *ConnectionError
		authErr     *AuthError
		navErr      *NavigationError
		dlTimeout   *DownloadTimeoutError
		browserErr  *BrowserStartError
		extractErr  *ExtractionError
		formatErr   *UnsupportedFormatError
		schemaErr   *SchemaMismatchError
		deliveryErr *DeliveryError
	)
	switch {
	case errors.As(err, &connErr):
		return BucketConnection
	case errors.As(err, &authErr):
		return BucketAuth
	case errors.As(err, &navErr):
		return BucketNavigation
	case errors.As(err, &dlTimeout):
		return BucketDownloadTimeout
	case errors.As(err, &browserErr):
		return BucketBrowserStart
	case errors.As(err, &extractErr):
		return BucketExtraction
	case errors.As(err, &formatErr):
		return BucketUnsupportedFormat
	case errors.As(err, &schemaErr):
		return BucketSchemaMismatch
	case errors.As(err, &deliveryErr):
		if deliveryErr.Permanent {
			return BucketDeliveryRejected
		}
		return BucketDeliveryTransient
	default:
		return BucketUnknown
	}
}

// IsCandidateRetryable reports whether an error should trigger another
// download attempt for the same candidate within the current cycle.
func IsCandidateRetryable(err error) bool {
	switch Classify(err) {
	case BucketNavigation, BucketDownloadTimeout, BucketExtraction:
		return true
	}
	return false
}

// IsCycleFatal reports whether an error must abort the whole cycle rather
// than just the current candidate.
func IsCycleFatal(err error) bool {
	switch Classify(err) {
	case BucketAuth, BucketBrowserStart:
		return true
	}
	return false
}
