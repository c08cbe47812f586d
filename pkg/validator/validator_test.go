package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryRequest struct {
	Question string `json:"question" validate:"notblank,max=4096"`
	TopK     int    `json:"top_k" validate:"omitempty,min=1,max=50"`
}

type documentRequest struct {
	ID      string `json:"id" validate:"required,max=191,docid"`
	Version int64  `json:"version" validate:"omitempty,min=1"`
}

func TestValidateWithLang_Valid(t *testing.T) {
	assert.Nil(t, StructWithLang(&queryRequest{Question: "what is rag?", TopK: 3}, LangEN))
	assert.Nil(t, StructWithLang(&documentRequest{ID: "guides/intro.md"}, LangEN))
}

func TestValidateWithLang_NotBlank(t *testing.T) {
	errs := StructWithLang(&queryRequest{Question: " \t\n"}, LangEN)
	require.NotNil(t, errs)
	require.Len(t, errs.Errors, 1)
	assert.Equal(t, "question", errs.Errors[0].Field)
	assert.Equal(t, TagNotBlank, errs.Errors[0].Tag)
	assert.Equal(t, "question must not be blank", errs.First())

	zh := StructWithLang(&queryRequest{Question: ""}, LangZH)
	require.NotNil(t, zh)
	assert.Equal(t, "question不能为空白", zh.First())
}

func TestValidateWithLang_DocumentID(t *testing.T) {
	for _, id := range []string{"a b", "doc@v1", "doc#1", "tab\tid", "nl\n"} {
		errs := StructWithLang(&documentRequest{ID: id}, LangEN)
		require.NotNil(t, errs, id)
		assert.Equal(t, TagDocumentID, errs.Errors[0].Tag, id)
	}
}

func TestValidateWithLang_MultipleErrors(t *testing.T) {
	errs := StructWithLang(&queryRequest{Question: "", TopK: 99}, LangEN)
	require.NotNil(t, errs)
	assert.Len(t, errs.Errors, 2)
	byField := errs.ByField()
	assert.Contains(t, byField, "question")
	assert.Contains(t, byField, "top_k")
	assert.Contains(t, errs.Error(), "validation failed: ")
}

func TestLangFromHeader(t *testing.T) {
	assert.Equal(t, LangZH, LangFromHeader("zh-CN,zh;q=0.9,en;q=0.8"))
	assert.Equal(t, LangEN, LangFromHeader("en-US,en;q=0.9"))
	assert.Equal(t, LangEN, LangFromHeader(""))
}

func TestValidationErrors_Nil(t *testing.T) {
	var errs *ValidationErrors
	assert.Equal(t, "", errs.Error())
	assert.Equal(t, "", errs.First())
	assert.Nil(t, errs.ByField())
}
