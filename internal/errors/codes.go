// Package errors provides structured error handling for Alchemy.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, store)
//   - 3XX: Upstream errors (LLM API, embeddings)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk, and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryUpstream indicates LLM / embedding API errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeModelMissing   = "ERR_103_MODEL_MISSING"

	// IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeWorkspace     = "ERR_202_WORKSPACE_UNREADABLE"
	ErrCodeStoreFailed   = "ERR_203_STORE_FAILED"
	ErrCodeCheckpointIO  = "ERR_204_CHECKPOINT_IO"
	ErrCodeTaskNotFound  = "ERR_205_TASK_NOT_FOUND"
	ErrCodeRegistryIO    = "ERR_206_REGISTRY_IO"

	// Upstream errors (300-399)
	ErrCodeLLMTimeout      = "ERR_301_LLM_TIMEOUT"
	ErrCodeLLMUnavailable  = "ERR_302_LLM_UNAVAILABLE"
	ErrCodeLLMBadResponse  = "ERR_303_LLM_BAD_RESPONSE"
	ErrCodeEmbeddingFailed = "ERR_304_EMBEDDING_FAILED"
	ErrCodeStreamBroken    = "ERR_305_STREAM_BROKEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeEmptyPlan    = "ERR_402_EMPTY_PLAN"
	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidPath  = "ERR_404_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeSearchFailed  = "ERR_502_SEARCH_FAILED"
	ErrCodeParseFailed   = "ERR_503_PARSE_FAILED"
	ErrCodeArtifactEmpty = "ERR_504_ARTIFACT_EMPTY"
	ErrCodeCancelled     = "ERR_505_CANCELLED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeModelMissing, ErrCodeWorkspace:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeLLMTimeout, ErrCodeLLMUnavailable, ErrCodeLLMBadResponse:
		return true
	default:
		return false
	}
}
