package cli

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

var serverAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "engine API address (default http://localhost:<server.port>)")
}

// apiClient talks to a running engine.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(port int) *apiClient {
	base := serverAddr
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", port)
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends a request and decodes a JSON response into out. Responses with
// a status in okCodes are decoded; anything else becomes an error.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any, okCodes ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if len(okCodes) == 0 {
		okCodes = []int{http.StatusOK}
	}
	ok := false
	for _, code := range okCodes {
		if resp.StatusCode == code {
			ok = true
		}
	}
	if !ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
