package saga

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// internalErrorBody is the fixed body of every failed direct invocation.
const internalErrorBody = `{"message":"Internal Server Error"}`

// HTTPRequest is a direct request/response invocation, such as a function
// URL or HTTP API call.
type HTTPRequest struct {
	Method          string
	Path            string
	RawQuery        string
	Headers         map[string]string
	Query           map[string]string
	Body            string
	IsBase64Encoded bool

	// Raw is the invocation as received.
	Raw json.RawMessage
}

// BodyBytes returns the request body, base64-decoded when needed.
func (r *HTTPRequest) BodyBytes() ([]byte, error) {
	if !r.IsBase64Encoded {
		return []byte(r.Body), nil
	}
	return base64.StdEncoding.DecodeString(r.Body)
}

// DecodeBody unmarshals the JSON request body into v.
func (r *HTTPRequest) DecodeBody(v any) error {
	b, err := r.BodyBytes()
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return json.Unmarshal(b, v)
}

// HTTPResponse is the reply to a direct invocation.
type HTTPResponse struct {
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded,omitempty"`
}

// JSONResponse builds a response with v encoded as the body.
func JSONResponse(status int, v any) (*HTTPResponse, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}, nil
}

func internalError() *HTTPResponse {
	return &HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       internalErrorBody,
	}
}

// httpEvent is the invocation shape of an HTTP front door (payload v2).
type httpEvent struct {
	RawPath               string            `json:"rawPath"`
	RawQueryString        string            `json:"rawQueryString"`
	Headers               map[string]string `json:"headers"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	Body                  string            `json:"body"`
	IsBase64Encoded       bool              `json:"isBase64Encoded"`
	RequestContext        struct {
		HTTP struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		} `json:"http"`
	} `json:"requestContext"`
}

// ParseHTTPRequest decodes a direct invocation.
func ParseHTTPRequest(raw []byte) (*HTTPRequest, error) {
	var ev httpEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	path := ev.RawPath
	if path == "" {
		path = ev.RequestContext.HTTP.Path
	}
	return &HTTPRequest{
		Method:          ev.RequestContext.HTTP.Method,
		Path:            path,
		RawQuery:        ev.RawQueryString,
		Headers:         ev.Headers,
		Query:           ev.QueryStringParameters,
		Body:            ev.Body,
		IsBase64Encoded: ev.IsBase64Encoded,
		Raw:             json.RawMessage(raw),
	}, nil
}
