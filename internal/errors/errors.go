package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrUnsupportedType = &AppError{Code: "DOC_001", Message: "unsupported file type"}
	ErrFileTooLarge    = &AppError{Code: "DOC_002", Message: "file exceeds size limit"}
	ErrFileUnreadable  = &AppError{Code: "DOC_003", Message: "file is unreadable or corrupt"}

	ErrJobNotFound    = &AppError{Code: "JOB_001", Message: "job not found"}
	ErrResultNotReady = &AppError{Code: "JOB_002", Message: "result not ready"}
	ErrJobFailed      = &AppError{Code: "JOB_003", Message: "job failed"}
	ErrQueueFull      = &AppError{Code: "JOB_004", Message: "processing queue is full"}

	ErrTextExtraction    = &AppError{Code: "PROC_001", Message: "text extraction failed"}
	ErrUnsupportedMethod = &AppError{Code: "PROC_002", Message: "unsupported extraction method"}

	ErrVisionUnavailable = &AppError{Code: "VIS_001", Message: "vision runtime unavailable"}

	ErrUnsupportedFormat = &AppError{Code: "EXP_001", Message: "unsupported export format"}
	ErrNotExportable     = &AppError{Code: "EXP_002", Message: "job has no exportable result"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
