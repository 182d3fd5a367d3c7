package errors

// ErrorCode identifies a class of failure across the simulation engine.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Data errors (200-299): problems with a single instrument's bar table.
	// These fail only the affected instrument, never the whole run.
	ErrCodeMissingColumn   ErrorCode = 200
	ErrCodeEmptyBarTable   ErrorCode = 201
	ErrCodeDuplicateBar    ErrorCode = 202
	ErrCodeUnorderedBars   ErrorCode = 203
	ErrCodeDataNotFound    ErrorCode = 204
	ErrCodeQueryFailed     ErrorCode = 205
	ErrCodeDataLoadFailed  ErrorCode = 206
	ErrCodeInvalidBarField ErrorCode = 207

	// Policy errors (400-499): a malformed or incompatible policy aborts the
	// whole run before any bar is processed.
	ErrCodePolicyValidation   ErrorCode = 400
	ErrCodePolicyNotSet       ErrorCode = 401
	ErrCodePolicyParamMissing ErrorCode = 402
	ErrCodePolicyParamBounds  ErrorCode = 403
	ErrCodePolicyVersion      ErrorCode = 404

	// Backtest errors (600-699)
	ErrCodeBacktestConfig       ErrorCode = 600
	ErrCodeBacktestNoData       ErrorCode = 601
	ErrCodeBacktestNoPolicy     ErrorCode = 602
	ErrCodeBacktestCancelled    ErrorCode = 603
	ErrCodeBacktestNoInstrument ErrorCode = 604

	// Cache I/O errors (700-799): disk-tier failures degrade the cache to
	// memory-only for that call; they never fail a data request.
	ErrCodeCacheSerialization ErrorCode = 700
	ErrCodeCacheRead          ErrorCode = 701
	ErrCodeCacheWrite         ErrorCode = 702
	ErrCodeCacheCorrupt       ErrorCode = 703
)

// IsDataError reports whether the code belongs to the per-instrument data
// error category.
func (c ErrorCode) IsDataError() bool {
	return c >= 200 && c < 300
}

// IsPolicyError reports whether the code belongs to the policy validation
// category.
func (c ErrorCode) IsPolicyError() bool {
	return c >= 400 && c < 500
}

// IsCacheError reports whether the code belongs to the cache I/O category.
func (c ErrorCode) IsCacheError() bool {
	return c >= 700 && c < 800
}
