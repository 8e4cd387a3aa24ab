package app

import "fmt"

const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeInvalidJSON       = "INVALID_JSON"
	CodePageNotFound      = "PAGE_NOT_FOUND"
	CodeVersionNotFound   = "VERSION_NOT_FOUND"
	CodeRequestInProgress = "REQUEST_IN_PROGRESS"
	CodeHostWriteFailed   = "HOST_WRITE_FAILED"
	CodeServerError       = "SERVER_ERROR"
)

// Warning codes attached to successful responses.
const (
	WarnParentNotFound     = "PARENT_NOT_FOUND"
	WarnMediaUploadFailed  = "MEDIA_UPLOAD_FAILED"
	WarnMediaDisabled      = "MEDIA_UPLOAD_DISABLED"
	WarnMetaWriteFailed    = "META_WRITE_FAILED"
	WarnPrimaryImageFailed = "PRIMARY_IMAGE_FAILED"
	WarnIdempotencyOffline = "IDEMPOTENCY_UNAVAILABLE"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
