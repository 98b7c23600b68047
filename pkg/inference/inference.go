// Package inference holds what the chat model providers share: the builder
// contract and the HTTP status error they report upstream failures with.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type Builder interface {
	New(ctx context.Context) (einomodel.BaseChatModel, error)
}

// StatusError is returned when a provider answered with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// StatusCode extracts the provider status from err. Errors that crossed a
// boundary which flattened them to text are matched on their message.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "status code: 429"), strings.Contains(msg, "429 too many requests"), strings.Contains(msg, "rate limit"):
		return http.StatusTooManyRequests, true
	case strings.Contains(msg, "status code: 5"), strings.Contains(msg, "502 bad gateway"), strings.Contains(msg, "503 service unavailable"):
		return http.StatusServiceUnavailable, true
	}
	return 0, false
}

// SplitMessages separates system prompts from the conversation turns.
func SplitMessages(in []*schema.Message) (system []string, turns []*schema.Message) {
	for _, m := range in {
		if m == nil {
			continue
		}
		if m.Role == schema.System {
			if text := strings.TrimSpace(m.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}

// SingleChunk adapts a Generate-only provider to the Stream half of BaseChatModel.
func SingleChunk(msg *schema.Message, err error) (*schema.StreamReader[*schema.Message], error) {
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
