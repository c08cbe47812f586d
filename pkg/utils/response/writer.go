package response

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
	"github.com/kart-io/sentinel-rag/pkg/validator"
)

// Writer provides convenient methods to write responses to a gin.Context.
type Writer struct {
	ctx       *gin.Context
	withTime  bool
	lang      string
	retryable func(error) bool
}

// NewWriter creates a new response writer for the given context.
// The request ID stored by the request ID middleware is added automatically.
func NewWriter(ctx *gin.Context) *Writer {
	return &Writer{ctx: ctx}
}

// WithTimestamp enables automatic timestamp in responses.
func (w *Writer) WithTimestamp() *Writer {
	w.withTime = true
	return w
}

// WithLang sets the language for error messages.
func (w *Writer) WithLang(lang string) *Writer {
	w.lang = lang
	return w
}

// WithRetryClassifier overrides how FailWithError decides the retryable flag.
func (w *Writer) WithRetryClassifier(fn func(error) bool) *Writer {
	w.retryable = fn
	return w
}

func (w *Writer) prepare(r *Response) *Response {
	if w.withTime {
		r.Timestamp = time.Now().UnixMilli()
	}
	if w.ctx.Request != nil {
		r.RequestID = id.RequestIDFrom(w.ctx.Request.Context())
	}
	return r
}

// Send sends a custom response.
func (w *Writer) Send(r *Response) {
	resp := w.prepare(r)
	w.ctx.JSON(resp.HTTPStatus(), resp)
}

// OK sends a successful response with data.
func (w *Writer) OK(data any) {
	w.Send(Success(data))
}

// Created sends a 201 response with data.
func (w *Writer) Created(data any) {
	w.Send(Created(data))
}

// Fail sends an error response using Errno.
func (w *Writer) Fail(e *errors.Errno) {
	w.Send(ErrWithLang(e, w.lang))
}

// FailWithError converts a standard error and sends it.
// If the error is an Errno, it uses it directly.
// Otherwise, it wraps it as ErrInternal.
func (w *Writer) FailWithError(err error) {
	resp := ErrWithLang(errors.FromError(err), w.lang)
	if w.retryable != nil {
		resp.Retryable = w.retryable(err)
	}
	w.Send(resp)
}

// FailWithValidation sends a validation error response with field details.
func (w *Writer) FailWithValidation(verr *validator.ValidationErrors) {
	e := errors.ErrValidationFailed.WithMessage(verr.First())
	resp := &Response{
		Code:     e.Code,
		Message:  verr.First(),
		Data:     verr.ByField(),
		httpCode: e.HTTPStatus(),
	}
	w.Send(resp)
}

// FailWithBind sends a response for a request body that could not be decoded.
func (w *Writer) FailWithBind(err error) {
	w.Fail(errors.ErrInvalidParam.WithMessage("invalid request body: " + err.Error()))
}

// Abort sends an error response and stops the handler chain.
func (w *Writer) Abort(e *errors.Errno) {
	w.Fail(e)
	w.ctx.Abort()
}

// OK sends a successful response.
func OK(c *gin.Context, data any) {
	NewWriter(c).OK(data)
}

// Fail sends an error response using Errno.
func Fail(c *gin.Context, e *errors.Errno) {
	NewWriter(c).Fail(e)
}

// FailWithError sends an error response from a standard error.
func FailWithError(c *gin.Context, err error) {
	NewWriter(c).FailWithError(err)
}

// Abort sends an error response and aborts the chain.
func Abort(c *gin.Context, e *errors.Errno) {
	NewWriter(c).Abort(e)
}
