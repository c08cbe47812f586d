package errors

import "net/http"

// Service codes (AA).
const (
	// ServiceCommon is shared by all services.
	ServiceCommon = 0
	// ServiceRAG is the retrieval-augmented generation service.
	ServiceRAG = 20
)

// Category codes (BB).
const (
	CategorySuccess   = 0
	CategoryRequest   = 1
	CategoryResource  = 4
	CategoryConflict  = 5
	CategoryRateLimit = 6
	CategoryInternal  = 7
	CategoryStorage   = 8
	CategoryNetwork   = 10
	CategoryTimeout   = 11
	CategoryConfig    = 12
)

// categoryStatus is the HTTP status of every category that is not a 500.
var categoryStatus = map[int]int{
	CategorySuccess:   http.StatusOK,
	CategoryRequest:   http.StatusBadRequest,
	CategoryResource:  http.StatusNotFound,
	CategoryConflict:  http.StatusConflict,
	CategoryRateLimit: http.StatusTooManyRequests,
	CategoryNetwork:   http.StatusServiceUnavailable,
	CategoryTimeout:   http.StatusGatewayTimeout,
}

// MakeCode builds an AABBCCC error code.
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an AABBCCC error code into its parts.
func ParseCode(code int) (service, category, sequence int) {
	return code / 100000, (code / 1000) % 100, code % 1000
}

// GetCategory returns the category part of a code.
func GetCategory(code int) int {
	_, c, _ := ParseCode(code)
	return c
}

// CategoryStatus returns the HTTP status used for codes of the given category.
func CategoryStatus(category int) int {
	if status, ok := categoryStatus[category]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsSuccess reports whether code means success.
func IsSuccess(code int) bool {
	return code == 0
}

// IsTransient reports whether a caller may retry the same request later.
func IsTransient(code int) bool {
	switch GetCategory(code) {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return true
	default:
		return false
	}
}
