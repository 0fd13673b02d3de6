// Package api is the HTTP transport between the conversation agent and the turn server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/parrotalk/plugin/ai/prompt"
)

const realtimePath = "/api/realtime"

// maxErrorBody caps how much of a failed response is read into a StatusError.
const maxErrorBody = 64 * 1024

// TurnUpload is one recorded utterance and its form fields.
type TurnUpload struct {
	SessionID       string
	Audio           []byte
	MIMEType        string
	Filename        string
	DurationSeconds float64
	Title           string
	PromptOptions   *prompt.Options
}

// TurnResponse is the server's answer to a turn.
type TurnResponse struct {
	SessionID     string `json:"sessionId"`
	UserText      string `json:"userText"`
	AssistantText string `json:"assistantText"`
	AudioData     string `json:"audioData"`
	AudioFormat   string `json:"audioFormat"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d %s", e.StatusCode, e.Message)
}

// Client calls the realtime endpoints of a turn server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client for the server at baseURL.
// Requests are bounded by the caller's context, not by a client timeout.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostTurn uploads one utterance. Cancelling ctx aborts the connection.
func (c *Client) PostTurn(ctx context.Context, up TurnUpload) (*TurnResponse, error) {
	body, contentType, err := encodeTurn(up)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+realtimePath, body)
	if err != nil {
		return nil, fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readStatusError(resp)
	}

	var out TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode turn response: %w", err)
	}
	return &out, nil
}

// ClearSession asks the server to forget the session's history.
func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	u := c.baseURL + realtimePath + "?" + url.Values{"sessionId": {sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("build clear request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func encodeTurn(up TurnUpload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	filename := up.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	if up.MIMEType != "" {
		h.Set("Content-Type", up.MIMEType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(up.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}

	fields := map[string]string{"sessionId": up.SessionID}
	if up.DurationSeconds > 0 {
		fields["duration"] = strconv.FormatFloat(up.DurationSeconds, 'f', -1, 64)
	}
	if up.Title != "" {
		fields["sessionTitle"] = up.Title
	}
	if up.PromptOptions != nil && !up.PromptOptions.IsZero() {
		raw, err := json.Marshal(up.PromptOptions)
		if err != nil {
			return nil, "", fmt.Errorf("encode prompt options: %w", err)
		}
		fields["promptOptions"] = string(raw)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{StatusCode: resp.StatusCode}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		se.Code, se.Message = body.Code, body.Message
	} else {
		se.Message = strings.TrimSpace(string(raw))
	}
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		se.RetryAfter = time.Duration(secs) * time.Second
	}
	return se
}
