package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startPayload struct {
	ExamID  string   `json:"exam_id" binding:"required,uuid"`
	Score   *float64 `json:"score" binding:"omitempty,min=0"`
	Ignored string   `json:"-"`
}

type tupleQuery struct {
	DriveID string `form:"drive_id" binding:"required,uuid"`
}

func newContext(method, target, body string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c
}

func TestBind(t *testing.T) {
	Setup()
	Setup()

	var ok startPayload
	assert.Nil(t, Bind(newContext(http.MethodPost, "/", `{"exam_id":"6f1c2a5e-8e0b-4f7a-9d65-3c1f0c2b7a10"}`), &ok))

	var bad startPayload
	fields := Bind(newContext(http.MethodPost, "/", `{"exam_id":"nope","score":-2}`), &bad)
	require.NotNil(t, fields)
	assert.Contains(t, fields["exam_id"], "exam_id")
	assert.Contains(t, fields, "score")

	var broken startPayload
	fields = Bind(newContext(http.MethodPost, "/", `{"exam_id":`), &broken)
	assert.Contains(t, fields, "detail")
}

func TestBindQuery(t *testing.T) {
	Setup()

	var q tupleQuery
	fields := BindQuery(newContext(http.MethodGet, "/?drive_id=", ""), &q)

	require.NotNil(t, fields)
	assert.Equal(t, "drive_id is a required field", fields["drive_id"])
}
