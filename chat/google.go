package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultChatBaseURL      = "https://chat.googleapis.com/v1"
	defaultDriveBaseURL     = "https://www.googleapis.com/drive/v3"
	defaultDirectoryBaseURL = "https://admin.googleapis.com/admin/directory/v1"
	defaultCallTimeout      = 30 * time.Second
)

// GoogleClient talks to the Google Chat, Drive and Admin Directory REST APIs
// with an impersonating credential supplied by the caller.
type GoogleClient struct {
	httpClient       *http.Client
	chatBaseURL      string
	driveBaseURL     string
	directoryBaseURL string
	callTimeout      time.Duration
}

// GoogleClientOption overrides defaults on a GoogleClient.
type GoogleClientOption func(*GoogleClient)

// WithBaseURLs points the client at alternate endpoints (tests).
func WithBaseURLs(chatURL, driveURL, directoryURL string) GoogleClientOption {
	return func(c *GoogleClient) {
		c.chatBaseURL = strings.TrimRight(chatURL, "/")
		c.driveBaseURL = strings.TrimRight(driveURL, "/")
		c.directoryBaseURL = strings.TrimRight(directoryURL, "/")
	}
}

// WithCallTimeout caps the duration of each remote call.
func WithCallTimeout(d time.Duration) GoogleClientOption {
	return func(c *GoogleClient) { c.callTimeout = d }
}

// NewGoogleClient builds a client from a token source. The token source is
// the credential-provider collaborator; expiry surfaces as an unauthorized
// failure on the call that hits it, never as a process-level fault.
func NewGoogleClient(ts oauth2.TokenSource, opts ...GoogleClientOption) *GoogleClient {
	c := &GoogleClient{
		httpClient:       oauth2.NewClient(context.Background(), ts),
		chatBaseURL:      defaultChatBaseURL,
		driveBaseURL:     defaultDriveBaseURL,
		directoryBaseURL: defaultDirectoryBaseURL,
		callTimeout:      defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GoogleClient) GetConversation(ctx context.Context, convRef string) (*RawConversation, error) {
	var conv RawConversation
	endpoint := fmt.Sprintf("%s/%s", c.chatBaseURL, strings.TrimPrefix(convRef, "/"))
	if err := c.getJSON(ctx, endpoint, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *GoogleClient) ListMessages(ctx context.Context, convRef, pageToken string) ([]RawMessage, string, error) {
	endpoint := fmt.Sprintf("%s/%s/messages", c.chatBaseURL, strings.TrimPrefix(convRef, "/"))
	if pageToken != "" {
		endpoint += "?pageToken=" + url.QueryEscape(pageToken)
	}

	var page struct {
		Messages      []RawMessage `json:"messages"`
		NextPageToken string       `json:"nextPageToken"`
	}
	if err := c.getJSON(ctx, endpoint, &page); err != nil {
		return nil, "", err
	}
	return page.Messages, page.NextPageToken, nil
}

func (c *GoogleClient) GetMessage(ctx context.Context, messageRef string) (*RawMessage, error) {
	var msg RawMessage
	endpoint := fmt.Sprintf("%s/%s", c.chatBaseURL, strings.TrimPrefix(messageRef, "/"))
	if err := c.getJSON(ctx, endpoint, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *GoogleClient) FetchBytes(ctx context.Context, ref SourceRef) ([]byte, string, error) {
	endpoint := ref.DownloadURI
	if endpoint == "" && ref.DriveFileID != "" {
		endpoint = fmt.Sprintf("%s/files/%s?alt=media", c.driveBaseURL, url.PathEscape(ref.DriveFileID))
	}
	if endpoint == "" {
		return nil, "", fmt.Errorf("%w: empty source reference", ErrNotFound)
	}

	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *GoogleClient) ResolveIdentity(ctx context.Context, senderID string) (*RawIdentity, error) {
	// Directory keys users by the bare id, without the "users/" resource prefix.
	id := strings.TrimPrefix(senderID, "users/")

	var user struct {
		PrimaryEmail string `json:"primaryEmail"`
		Name         struct {
			FullName string `json:"fullName"`
		} `json:"name"`
	}
	endpoint := fmt.Sprintf("%s/users/%s", c.directoryBaseURL, url.PathEscape(id))
	if err := c.getJSON(ctx, endpoint, &user); err != nil {
		return nil, err
	}
	return &RawIdentity{DisplayName: user.Name.FullName, Email: user.PrimaryEmail}, nil
}

func (c *GoogleClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %v", endpoint, err)
	}
	return nil
}

func (c *GoogleClient) do(ctx context.Context, endpoint string) (*http.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		// Timeouts and connection failures are retryable.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	// Tie body lifetime to the call timeout.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
