package procerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Connection", &ConnectionError{Server: "imap.example.com:993", Err: errors.New("refused")}, BucketConnection},
		{"Auth", &AuthError{Username: "ops@example.com", Err: errors.New("bad password")}, BucketAuth},
		{"Navigation", &NavigationError{Target: "https://example.com/dl", Err: errors.New("no such element")}, BucketNavigation},
		{"Download timeout", &DownloadTimeoutError{Target: "/tmp/dl", Seconds: 60}, BucketDownloadTimeout},
		{"Browser start", &BrowserStartError{Err: errors.New("chrome not found")}, BucketBrowserStart},
		{"Extraction", &ExtractionError{Archive: "x.zip", Err: errors.New("truncated")}, BucketExtraction},
		{"Unsupported format", &UnsupportedFormatError{Path: "x.bin"}, BucketUnsupportedFormat},
		{"Schema mismatch", &SchemaMismatchError{FilePath: "x.csv", Column: "Amount"}, BucketSchemaMismatch},
		{"Delivery rejected", &DeliveryError{StatusCode: 422, Permanent: true}, BucketDeliveryRejected},
		{"Delivery transient status", &DeliveryError{StatusCode: 503}, BucketDeliveryTransient},
		{"Delivery transient network", &DeliveryError{Err: errors.New("connection reset")}, BucketDeliveryTransient},
		{"Wrapped error", fmt.Errorf("candidate failed: %w", &ExtractionError{Archive: "x.zip"}), BucketExtraction},
		{"Plain error", errors.New("boom"), BucketUnknown},
		{"Nil", nil, BucketUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err))
		})
	}
}

func TestIsCandidateRetryable(t *testing.T) {
	assert.True(t, IsCandidateRetryable(&NavigationError{Target: "x"}))
	assert.True(t, IsCandidateRetryable(&DownloadTimeoutError{Target: "x", Seconds: 30}))
	assert.True(t, IsCandidateRetryable(&ExtractionError{Archive: "x.zip"}))

	assert.False(t, IsCandidateRetryable(&UnsupportedFormatError{Path: "x"}))
	assert.False(t, IsCandidateRetryable(&SchemaMismatchError{FilePath: "x", Column: "y"}))
	assert.False(t, IsCandidateRetryable(&AuthError{Username: "u"}))
	assert.False(t, IsCandidateRetryable(errors.New("boom")))
}

func TestIsCycleFatal(t *testing.T) {
	assert.True(t, IsCycleFatal(&AuthError{Username: "u"}))
	assert.True(t, IsCycleFatal(&BrowserStartError{Err: errors.New("no chrome")}))

	assert.False(t, IsCycleFatal(&ConnectionError{Server: "s"}))
	assert.False(t, IsCycleFatal(&DeliveryError{StatusCode: 500}))
	assert.False(t, IsCycleFatal(nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := &ConnectionError{Server: "s", Err: cause}
	assert.ErrorIs(t, wrapped, cause)
}
