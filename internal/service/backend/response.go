package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
)

// ErrorMessage extracts human readable message from error body.
// Understands {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"error": ...} and {"message": ...}.
// Returns empty string if nothing found.
func ErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.Type == gjson.String:
		return detail.String()
	case detail.IsArray():
		msgs := make([]string, 0)
		for _, m := range detail.Get("#.msg").Array() {
			msgs = append(msgs, m.String())
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	for _, path := range []string{"message", "error"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}

	return ""
}

// Send performs request and reads the whole body.
// Transport failures become *NetworkError, non-2xx statuses become *APIError.
func Send(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &apperrors.NetworkError{Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &apperrors.APIError{Status: resp.StatusCode, Message: ErrorMessage(body)}
	}

	return body, nil
}

// Decode unmarshals body into out. Empty body or nil out is not an error
func Decode(body []byte, out any) error {
	if out == nil || len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
