package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for every non-2xx response from the device API.
type APIError struct {
	StatusCode  int
	Method      string
	URL         string
	Code        string
	Description string
	Body        string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// errorBody is the device API's error envelope. Older deployments used desc.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	Desc        string `json:"desc"`
}

func newAPIError(req *http.Request, status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		Body:       string(body),
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.Error
		apiErr.Description = eb.Description
		if apiErr.Description == "" {
			apiErr.Description = eb.Desc
		}
	}
	return apiErr
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// IsBadRequest reports a 400: the device API will never accept this request.
func IsBadRequest(err error) bool { return hasStatus(err, http.StatusBadRequest) }

// IsBadJWT reports a 401 from the user endpoint.
func IsBadJWT(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

// IsDeviceNotFound reports a 404: the device was deleted server side.
func IsDeviceNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

func IsUnprocessableEntity(err error) bool { return hasStatus(err, http.StatusUnprocessableEntity) }
