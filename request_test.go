package saga_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/saga"
)

func TestParseHTTPRequest(t *testing.T) {
	raw := []byte(`{
		"version": "2.0",
		"rawPath": "/users/42",
		"rawQueryString": "verbose=1",
		"headers": {"content-type": "application/json"},
		"queryStringParameters": {"verbose": "1"},
		"body": "eyJuYW1lIjoiYWRhIn0=",
		"isBase64Encoded": true,
		"requestContext": {"http": {"method": "PUT", "path": "/users/42"}}
	}`)

	req, err := saga.ParseHTTPRequest(raw)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/users/42", req.Path)
	assert.Equal(t, "verbose=1", req.RawQuery)
	assert.Equal(t, "application/json", req.Headers["content-type"])
	assert.Equal(t, "1", req.Query["verbose"])
	assert.JSONEq(t, string(raw), string(req.Raw))

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, req.DecodeBody(&body))
	assert.Equal(t, "ada", body.Name)
}

func TestParseHTTPRequest_PathFallback(t *testing.T) {
	req, err := saga.ParseHTTPRequest([]byte(`{"requestContext": {"http": {"method": "GET", "path": "/health"}}}`))
	require.NoError(t, err)

	assert.Equal(t, "/health", req.Path)

	b, err := req.BodyBytes()
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestParseHTTPRequest_Invalid(t *testing.T) {
	_, err := saga.ParseHTTPRequest([]byte(`[1]`))

	assert.ErrorIs(t, err, saga.ErrInvalidEvent)
}

func TestHTTPRequest_BadBase64(t *testing.T) {
	req := &saga.HTTPRequest{Body: "%%%", IsBase64Encoded: true}

	var v any
	assert.Error(t, req.DecodeBody(&v))
}
