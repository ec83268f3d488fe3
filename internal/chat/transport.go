package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 150 * time.Second

// StatusError is returned by HTTPSender when the gateway answers with a
// non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

type chatRequest struct {
	Messages []Message `json:"messages"`
}

// HTTPSender posts the conversation to the gateway's chat endpoint.
type HTTPSender struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPSender returns a sender for the gateway at gatewayURL. A nil
// httpClient gets a client with the default request timeout.
func NewHTTPSender(gatewayURL string, httpClient *http.Client) *HTTPSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPSender{
		endpoint:   strings.TrimRight(gatewayURL, "/") + "/api/chat",
		httpClient: httpClient,
	}
}

func (s *HTTPSender) Send(ctx context.Context, history []Message) (Message, error) {
	body, err := json.Marshal(chatRequest{Messages: history})
	if err != nil {
		return Message{}, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("sending chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Message{}, &StatusError{StatusCode: resp.StatusCode}
	}

	var reply Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Message{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if strings.TrimSpace(reply.Content) == "" && len(reply.Images) == 0 {
		return Message{}, errors.New("decoding chat response: reply has no content")
	}
	return reply, nil
}
