// Package slack implements chat.Publisher and chat.Directory on the Slack
// Web API, and verifies Events API request signatures.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	slackapi "github.com/slack-go/slack"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// Client is a Slack-backed chat.Publisher and chat.Directory.
type Client struct {
	client slackClient
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BotToken string // xoxb-... Slack bot token
	// For testing: inject a mock instead of the real Slack API.
	API slackClient
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.API != nil {
		return &Client{client: opts.API}, nil
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	return &Client{client: slackapi.New(opts.BotToken)}, nil
}

// Publish posts text to channel, threaded under threadTS when set, and
// returns the timestamp Slack assigned to the new message.
func (c *Client) Publish(ctx context.Context, channel, text, threadTS string) (string, error) {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTS != "" {
		options = append(options, slackapi.MsgOptionTS(threadTS))
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = c.client.PostMessageContext(ctx, channel, options...)
		return postErr
	})
	if err != nil {
		return "", &chat.PublishError{Channel: channel, Err: err}
	}
	return ts, nil
}

// LookupUser fetches a user's handle and email from users.info.
func (c *Client) LookupUser(ctx context.Context, externalID string) (chat.Profile, error) {
	user, err := c.client.GetUserInfoContext(ctx, externalID)
	if err != nil {
		return chat.Profile{}, &chat.DirectoryError{ExternalID: externalID, Err: err}
	}
	return chat.Profile{
		Username: user.Name,
		Email:    user.Profile.Email,
	}, nil
}

// VerifyRequest checks the X-Slack-Signature header of an Events API
// request against the app's signing secret.
func VerifyRequest(header http.Header, body []byte, secret string) error {
	sv, err := slackapi.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("slack: verify request: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("slack: verify request: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("slack: verify request: %w", err)
	}
	return nil
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors only. A rate-limited call was rejected before anything was
// posted, so retrying it cannot duplicate a message.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
