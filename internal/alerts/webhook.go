package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a webhook error response is carried in
// the returned error.
const maxErrorBody = 2048

// sender posts JSON payloads to webhook URLs with a bounded timeout.
type sender struct {
	httpc *http.Client
}

func newSender(timeout time.Duration) *sender {
	return &sender{httpc: &http.Client{Timeout: timeout}}
}

// post delivers one JSON document. Responses with status >= 400 become
// errors carrying the status and an excerpt of the response body.
func (s *sender) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(excerpt))
	}
	return nil
}
