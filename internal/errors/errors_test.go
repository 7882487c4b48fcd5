package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Set Gin to test mode to suppress logs during tests
	gin.SetMode(gin.TestMode)
}

// setupTestContext creates a test Gin context with logger, request ID and
// environment in context.
func setupTestContext(env string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/calculate", nil)

	c.Set(middleware.LoggerKey, logger.Nop())
	c.Set(middleware.RequestIDKey, "test-request-id")
	c.Set(middleware.EnvironmentKey, env)
	c.Set(middleware.StartTimeKey, time.Now().Add(-25*time.Millisecond))

	return c, w
}

// parseErrorResponse parses the JSON response into an ErrorResponse struct.
func parseErrorResponse(t *testing.T, body *bytes.Buffer) ErrorResponse {
	var response ErrorResponse
	err := json.Unmarshal(body.Bytes(), &response)
	require.NoError(t, err, "Failed to parse error response JSON")
	return response
}

func TestHelpers_StatusAndCode(t *testing.T) {
	upstream := errors.New("dial tcp: connection refused")

	tests := []struct {
		name       string
		call       func(c *gin.Context)
		wantStatus int
		wantCode   string
	}{
		{"invalid input", func(c *gin.Context) { InvalidInput(c, "Address is required", nil) }, http.StatusBadRequest, ErrInvalidInput},
		{"calculation", func(c *gin.Context) { CalculationError(c, "No tax history available") }, http.StatusBadRequest, ErrCalculation},
		{"property not found", func(c *gin.Context) { PropertyNotFound(c, "Property not found") }, http.StatusNotFound, ErrPropertyNotFound},
		{"service unavailable", func(c *gin.Context) { ServiceUnavailable(c, "Property data service unavailable", upstream) }, http.StatusServiceUnavailable, ErrServiceUnavailable},
		{"gateway timeout", func(c *gin.Context) { GatewayTimeout(c, "Property data service timed out", upstream) }, http.StatusGatewayTimeout, ErrGatewayTimeout},
		{"internal", func(c *gin.Context) { InternalServerError(c, "An unexpected error occurred", upstream) }, http.StatusInternalServerError, ErrInternal},
		{"route not found", func(c *gin.Context) { NotFound(c, "Route not found") }, http.StatusNotFound, ErrNotFound},
		{"method not allowed", func(c *gin.Context) { MethodNotAllowed(c, "Method not allowed") }, http.StatusMethodNotAllowed, ErrMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := setupTestContext("development")

			tt.call(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.True(t, c.IsAborted())

			response := parseErrorResponse(t, w.Body)
			assert.False(t, response.Success)
			assert.Equal(t, tt.wantCode, response.Error.Code)
			assert.NotEmpty(t, response.Error.Message)
			assert.Equal(t, "test-request-id", response.Metadata.RequestID)
			assert.GreaterOrEqual(t, response.Metadata.LatencyMs, int64(25))
		})
	}
}

func TestEnvelopeShape(t *testing.T) {
	c, w := setupTestContext("development")
	middleware.SetAddress(c, "123 Main St, Springfield, IL 62704")

	PropertyNotFound(c, "Property not found")

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))

	assert.Equal(t, false, raw["success"])
	errBody := raw["error"].(map[string]interface{})
	assert.Equal(t, "PROPERTY_NOT_FOUND", errBody["code"])
	assert.NotContains(t, errBody, "details")

	metadata := raw["metadata"].(map[string]interface{})
	assert.Equal(t, "test-request-id", metadata["requestId"])
	assert.Equal(t, "123 Main St, Springfield, IL 62704", metadata["address"])
	assert.Contains(t, metadata, "latencyMs")
}

func TestDetails_DevelopmentOnly(t *testing.T) {
	upstream := errors.New("status 502: bad gateway")

	t.Run("development includes error text", func(t *testing.T) {
		c, w := setupTestContext("development")
		ServiceUnavailable(c, "Property data service unavailable", upstream)

		response := parseErrorResponse(t, w.Body)
		require.NotNil(t, response.Error.Details)
		assert.Equal(t, "status 502: bad gateway", response.Error.Details["error"])
	})

	t.Run("production omits details", func(t *testing.T) {
		c, w := setupTestContext("production")
		InternalServerError(c, "An unexpected error occurred", upstream)

		assert.NotContains(t, w.Body.String(), "bad gateway")
		response := parseErrorResponse(t, w.Body)
		assert.Nil(t, response.Error.Details)
		assert.Equal(t, "An unexpected error occurred", response.Error.Message)
	})

	t.Run("production omits input details", func(t *testing.T) {
		c, w := setupTestContext("production")
		InvalidInput(c, "Invalid JSON body", map[string]interface{}{"error": "unexpected EOF"})

		response := parseErrorResponse(t, w.Body)
		assert.Nil(t, response.Error.Details)
	})
}

func TestValidationError(t *testing.T) {
	type testStruct struct {
		Address string `json:"address" validate:"required"`
		Limit   int    `json:"limit" validate:"gte=1,lte=100"`
	}

	validate := validator.New()
	err := validate.Struct(testStruct{Limit: 500})
	require.Error(t, err)

	validationErrors, ok := err.(validator.ValidationErrors)
	require.True(t, ok, "Expected validator.ValidationErrors")

	c, w := setupTestContext("development")
	ValidationError(c, validationErrors)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrInvalidInput, response.Error.Code)
	assert.Equal(t, "Address is required", response.Error.Message)
	require.NotNil(t, response.Error.Details)
	assert.Equal(t, "This field is required", response.Error.Details["Address"])
	assert.Equal(t, "Must be less than or equal to 100", response.Error.Details["Limit"])
}

func TestFormatValidationError(t *testing.T) {
	tests := []struct {
		tag      string
		param    string
		expected string
	}{
		{"required", "", "This field is required"},
		{"min", "5", "Value is too short or small (minimum: 5)"},
		{"max", "500", "Value is too long or large (maximum: 500)"},
		{"gt", "0", "Must be greater than 0"},
		{"gte", "1", "Must be greater than or equal to 1"},
		{"lte", "100", "Must be less than or equal to 100"},
		{"oneof", "firestore postgres memory", "Must be one of: firestore postgres memory"},
		{"unknown_tag", "", "Validation failed for tag: unknown_tag"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			fieldErr := &mockFieldError{tag: tt.tag, param: tt.param}
			assert.Equal(t, tt.expected, formatValidationError(fieldErr))
		})
	}
}

func TestFieldMessage(t *testing.T) {
	assert.Equal(t, "TestField is required", fieldMessage(&mockFieldError{tag: "required"}))
	assert.Equal(t, "TestField is too short", fieldMessage(&mockFieldError{tag: "min"}))
	assert.Equal(t, "TestField is too long", fieldMessage(&mockFieldError{tag: "max"}))
	assert.Equal(t, "TestField is invalid", fieldMessage(&mockFieldError{tag: "uuid"}))
}

func TestErrorResponseWithoutContext(t *testing.T) {
	// A bare context has no logger, request ID, or start time.
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/missing", nil)

	NotFound(c, "Route not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	response := parseErrorResponse(t, w.Body)
	assert.Equal(t, ErrNotFound, response.Error.Code)
	assert.Empty(t, response.Metadata.RequestID)
	assert.Zero(t, response.Metadata.LatencyMs)
}

// mockFieldError is a mock implementation of validator.FieldError for testing.
type mockFieldError struct {
	tag   string
	param string
}

func (m *mockFieldError) Tag() string                    { return m.tag }
func (m *mockFieldError) ActualTag() string              { return m.tag }
func (m *mockFieldError) Namespace() string              { return "" }
func (m *mockFieldError) StructNamespace() string        { return "" }
func (m *mockFieldError) Field() string                  { return "TestField" }
func (m *mockFieldError) StructField() string            { return "TestField" }
func (m *mockFieldError) Value() interface{}             { return nil }
func (m *mockFieldError) Param() string                  { return m.param }
func (m *mockFieldError) Kind() reflect.Kind             { return reflect.String }
func (m *mockFieldError) Type() reflect.Type             { return nil }
func (m *mockFieldError) Translate(ut.Translator) string { return "" }
func (m *mockFieldError) Error() string                  { return "" }
