package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/proptax/calculator/api/internal/middleware"
)

// Error code constants for standardized error responses
const (
	ErrInvalidInput       = "INVALID_INPUT"
	ErrCalculation        = "CALCULATION_ERROR"
	ErrPropertyNotFound   = "PROPERTY_NOT_FOUND"
	ErrServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrInternal           = "INTERNAL_ERROR"
	ErrNotFound           = "NOT_FOUND"
	ErrMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Success  bool          `json:"success"`
	Error    ErrorDetail   `json:"error"`
	Metadata ErrorMetadata `json:"metadata"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorMetadata correlates an error response with its request.
type ErrorMetadata struct {
	RequestID string `json:"requestId"`
	Address   string `json:"address,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// InvalidInput returns a 400 Bad Request for a request the client can fix.
func InvalidInput(c *gin.Context, message string, details map[string]interface{}) {
	logWarn(c, "Invalid input", message, details)
	respond(c, http.StatusBadRequest, ErrInvalidInput, message, details)
}

// CalculationError returns a 400 Bad Request when the property data cannot
// support a tax calculation.
func CalculationError(c *gin.Context, message string) {
	logWarn(c, "Calculation precondition failed", message, nil)
	respond(c, http.StatusBadRequest, ErrCalculation, message, nil)
}

// PropertyNotFound returns a 404 when the data provider has no record for the
// requested address.
func PropertyNotFound(c *gin.Context, message string) {
	logWarn(c, "Property not found", message, nil)
	respond(c, http.StatusNotFound, ErrPropertyNotFound, message, nil)
}

// ServiceUnavailable returns a 503 when the data provider is unreachable,
// misconfigured, or returned an unusable payload.
func ServiceUnavailable(c *gin.Context, message string, err error) {
	logError(c, "Upstream service unavailable", message, err)
	respond(c, http.StatusServiceUnavailable, ErrServiceUnavailable, message, errorDetails(err))
}

// GatewayTimeout returns a 504 when the data provider exceeds its time budget.
func GatewayTimeout(c *gin.Context, message string, err error) {
	logError(c, "Upstream request timed out", message, err)
	respond(c, http.StatusGatewayTimeout, ErrGatewayTimeout, message, errorDetails(err))
}

// InternalServerError returns a 500 Internal Server Error response.
// The error text is only exposed outside production.
func InternalServerError(c *gin.Context, message string, err error) {
	logError(c, "Internal server error", message, err)
	respond(c, http.StatusInternalServerError, ErrInternal, message, errorDetails(err))
}

// NotFound returns a 404 for an unknown route.
func NotFound(c *gin.Context, message string) {
	logWarn(c, "Route not found", message, nil)
	respond(c, http.StatusNotFound, ErrNotFound, message, nil)
}

// MethodNotAllowed returns a 405 for a known route called with the wrong
// method.
func MethodNotAllowed(c *gin.Context, message string) {
	logWarn(c, "Method not allowed", message, nil)
	respond(c, http.StatusMethodNotAllowed, ErrMethodNotAllowed, message, nil)
}

// ValidationError returns a 400 Bad Request error response with field-specific validation errors.
// It parses the validation errors from the validator library and formats them for the client.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{})
	message := "Validation failed for one or more fields"
	for i, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
		if i == 0 {
			message = fieldMessage(err)
		}
	}

	logWarn(c, "Validation error", message, details)
	respond(c, http.StatusBadRequest, ErrInvalidInput, message, details)
}

// respond writes the envelope and aborts the handler chain. Details are
// dropped in production.
func respond(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	if middleware.IsProduction(c) {
		details = nil
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: ErrorMetadata{
			RequestID: middleware.GetRequestID(c),
			Address:   middleware.GetAddress(c),
			LatencyMs: middleware.Latency(c).Milliseconds(),
		},
	})
}

func errorDetails(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	return map[string]interface{}{"error": err.Error()}
}

func logWarn(c *gin.Context, msg, message string, details map[string]interface{}) {
	log := middleware.GetLogger(c)
	if log == nil {
		return
	}

	fields := map[string]interface{}{
		"message": message,
		"path":    c.Request.URL.Path,
	}
	if addr := middleware.GetAddress(c); addr != "" {
		fields["address"] = addr
	}
	if details != nil {
		fields["details"] = details
	}
	log.Warn(msg, fields)
}

func logError(c *gin.Context, msg, message string, err error) {
	log := middleware.GetLogger(c)
	if log == nil {
		return
	}

	fields := map[string]interface{}{
		"message": message,
		"path":    c.Request.URL.Path,
		"method":  c.Request.Method,
	}
	if addr := middleware.GetAddress(c); addr != "" {
		fields["address"] = addr
	}
	log.Error(msg, err, fields)
}

// fieldMessage builds a client-facing sentence for the first failed field.
func fieldMessage(err validator.FieldError) string {
	field := err.Field()
	switch err.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " is too short"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "gt":
		return "Must be greater than " + err.Param()
	case "gte":
		return "Must be greater than or equal to " + err.Param()
	case "lte":
		return "Must be less than or equal to " + err.Param()
	case "oneof":
		return "Must be one of: " + err.Param()
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
