package payments

import (
	"fmt"
	"io"
	"net/http"
)

// do sends req and returns the body of a 2xx response. Network failures, 429
// and 5xx are ErrGatewayUnavailable; other statuses are *APIError.
func do(client *http.Client, gateway string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrGatewayUnavailable, gateway, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s read response: %v", ErrGatewayUnavailable, gateway, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s api status %d", ErrGatewayUnavailable, gateway, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{Gateway: gateway, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
