package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is one transport call.
type Request struct {
	Method string
	Path   string
	Body   any
}

// Response is the raw transport reply. Status is always 2xx; other
// statuses are reported as errors.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs one request against an external system. The
// connector framework consumes it; implementing the device protocol is
// the transport's job.
type Transport func(ctx context.Context, req Request) (Response, error)

// maxResponseBytes bounds how much of a reply is read.
const maxResponseBytes = 4 << 20

// HTTPTransport returns a Transport that sends JSON requests to baseURL.
// Non-2xx replies become errors of the form "http 503 Service Unavailable"
// so Classify can map them. A bearer token is attached when set.
func HTTPTransport(baseURL, token string, client *http.Client) Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return func(ctx context.Context, req Request) (Response, error) {
		var body io.Reader
		if req.Body != nil {
			data, err := json.Marshal(req.Body)
			if err != nil {
				return Response{}, fmt.Errorf("encode request body: %w", err)
			}
			body = bytes.NewReader(data)
		}

		method := req.Method
		if method == "" {
			method = http.MethodGet
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, baseURL+req.Path, body)
		if err != nil {
			return Response{}, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return Response{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return Response{}, fmt.Errorf("http %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return Response{Status: resp.StatusCode, Body: data}, nil
	}
}
