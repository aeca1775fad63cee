package builderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrNoBuilder          = errors.New("no builder configured")
	ErrHTTPErrorResponse  = errors.New("got an HTTP error response")
	ErrInvalidResponse    = errors.New("invalid builder response")
	ErrUnsupportedVersion = errors.New("unsupported fork version")
	ErrBlockHashMismatch  = errors.New("unblinded payload does not match the selected header")
)

// fetch performs a request against the builder. Bodies of non-2xx responses are decoded into the
// builder-api error format and returned as ErrHTTPErrorResponse.
func fetch(ctx context.Context, client *http.Client, method, url string, payload []byte, headers http.Header) (code int, body []byte, err error) {
	var req *http.Request

	if payload == nil {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	}
	if err != nil {
		return 0, nil, fmt.Errorf("invalid request for %s: %w", url, err)
	}

	req.Header.Add("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Add(k, v[0])
	}
	req.Header.Set("accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("client refused for %s: %w", url, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("could not read response body for %s: %w", url, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		ec := &struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{}
		if err = json.Unmarshal(bodyBytes, ec); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("%w: %d from %s: %s", ErrHTTPErrorResponse, resp.StatusCode, url, string(bodyBytes))
		}
		return resp.StatusCode, nil, fmt.Errorf("%w: %d %s", ErrHTTPErrorResponse, resp.StatusCode, ec.Message)
	}

	return resp.StatusCode, bodyBytes, nil
}
