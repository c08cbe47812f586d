package errors

// OK represents a successful operation.
var OK = common(CategorySuccess, 0, "Success", "成功")

// Request errors.
var (
	ErrInvalidParam     = common(CategoryRequest, 1, "Invalid parameter", "参数无效")
	ErrValidationFailed = common(CategoryRequest, 4, "Validation failed", "校验失败")
	ErrRequestTooLarge  = withStatus(common(CategoryRequest, 5, "Request body too large", "请求体过大"), 413)

	// ErrCanceled indicates the caller went away. 499 is the nginx "client closed request" status.
	ErrCanceled = withStatus(common(CategoryRequest, 6, "Request canceled", "请求已取消"), 499)
)

// Resource errors.
var (
	ErrNotFound      = common(CategoryResource, 0, "Resource not found", "资源不存在")
	ErrRouteNotFound = common(CategoryResource, 4, "Route not found", "路由不存在")
)

// ErrTooManyRequests indicates the caller is being throttled.
var ErrTooManyRequests = common(CategoryRateLimit, 0, "Too many requests", "请求过于频繁")

// Internal errors.
var (
	ErrInternal = common(CategoryInternal, 0, "Internal server error", "服务器内部错误")
	ErrPanic    = common(CategoryInternal, 2, "Internal panic", "服务内部异常")
)

// ErrStorage indicates the document store or the query cache backend failed.
var ErrStorage = common(CategoryStorage, 0, "Storage error", "存储错误")

// ErrServiceUnavailable indicates a dependency is unavailable.
var ErrServiceUnavailable = common(CategoryNetwork, 1, "Service unavailable", "服务不可用")

// ErrTimeout indicates a deadline expired before the work finished.
var ErrTimeout = common(CategoryTimeout, 0, "Operation timeout", "操作超时")

func common(category, sequence int, en, zh string) *Errno {
	return MustDefine(ServiceCommon, category, sequence, en, zh)
}

func withStatus(e *Errno, status int) *Errno {
	e.HTTP = status
	return e
}
