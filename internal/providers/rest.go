package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// restClient porte les appels JSON des prestataires sans SDK Go (wallet, redirection)
type restClient struct {
	provider string
	baseURL  string
	http     *http.Client
	headers  map[string]string
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// do envoie body en JSON et décode la réponse dans out. 5xx et 429 sont transitoires.
func (c *restClient) do(ctx context.Context, method, path string, body any, out any, extra map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// réseau, timeout, échec d'obtention du jeton
		return Transient(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transient(err)
	}

	if resp.StatusCode >= 300 {
		se := &statusError{Status: resp.StatusCode, Body: string(raw)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Transient(se)
		}
		return fmt.Errorf("[%s] %s %s: %w", c.provider, method, path, se)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("[%s] réponse illisible: %w", c.provider, err)
	}
	return nil
}
