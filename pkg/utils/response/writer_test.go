package response

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
	"github.com/kart-io/sentinel-rag/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request = req.WithContext(id.WithRequestID(context.Background(), "req-1"))
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriter_OK(t *testing.T) {
	c, w := newContext()
	OK(c, map[string]int{"n": 1})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 0, body["code"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, map[string]any{"n": float64(1)}, body["data"])
	assert.NotContains(t, body, "retryable")
}

func TestWriter_Created(t *testing.T) {
	c, w := newContext()
	NewWriter(c).WithTimestamp().Created("x")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotZero(t, decode(t, w)["timestamp"])
}

func TestWriter_FailWithLang(t *testing.T) {
	c, w := newContext()
	NewWriter(c).WithLang("zh").Fail(errors.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, errors.ErrNotFound.Code, body["code"])
	assert.Equal(t, "资源不存在", body["message"])
}

func TestWriter_FailWithError(t *testing.T) {
	t.Run("plain error becomes internal", func(t *testing.T) {
		c, w := newContext()
		FailWithError(c, stderrors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.EqualValues(t, errors.ErrInternal.Code, body["code"])
		assert.NotContains(t, body["message"], "boom")
	})

	t.Run("transient errors are retryable", func(t *testing.T) {
		c, w := newContext()
		FailWithError(c, errors.ErrServiceUnavailable.WithCause(stderrors.New("down")))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, true, decode(t, w)["retryable"])
	})

	t.Run("classifier overrides", func(t *testing.T) {
		c, w := newContext()
		NewWriter(c).WithRetryClassifier(func(error) bool { return true }).FailWithError(errors.ErrInternal)
		assert.Equal(t, true, decode(t, w)["retryable"])
	})
}

func TestWriter_FailWithValidation(t *testing.T) {
	c, w := newContext()
	NewWriter(c).FailWithValidation(validator.NewValidationError("question", "notblank", "question must not be blank"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, errors.ErrValidationFailed.Code, body["code"])
	assert.Equal(t, "question must not be blank", body["message"])
	assert.Contains(t, body["data"], "question")
}

func TestWriter_Abort(t *testing.T) {
	c, w := newContext()
	Abort(c, errors.ErrTooManyRequests)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestResponse_HTTPStatusFallback(t *testing.T) {
	r := &Response{Code: errors.MakeCode(99, errors.CategoryConflict, 999)}
	assert.Equal(t, http.StatusConflict, r.HTTPStatus())
	assert.Equal(t, http.StatusOK, Success(nil).HTTPStatus())
	assert.True(t, Success(nil).IsSuccess())
}
