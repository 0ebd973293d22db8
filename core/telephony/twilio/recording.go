// Package twilio starts call recordings through the Twilio REST API and
// receives their status callbacks.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	// defaultStartDelay gives the call time to be bridged before recording
	// is requested.
	defaultStartDelay = time.Second
)

// ErrRecordingRejected is returned when Twilio refuses to record the call,
// usually because the call is not in progress.
var ErrRecordingRejected = errors.New("telephony provider rejected recording")

// ProviderError is any other failure reported by Twilio.
type ProviderError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("twilio failed to create recording: %s", e.Status)
}

type Recording struct {
	SID      string `json:"sid"`
	CallSID  string `json:"call_sid"`
	Status   string `json:"status"`
	Channels int    `json:"channels"`
}

type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	startDelay time.Duration
	client     *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.client = client }
}

// WithStartDelay sets how long StartRecording waits before asking for the
// recording.
func WithStartDelay(delay time.Duration) ClientOption {
	return func(c *Client) { c.startDelay = delay }
}

func NewClient(accountSID, authToken string, opts ...ClientOption) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		startDelay: defaultStartDelay,
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRecording records both channels of the call. Twilio reports the
// finished recording to statusCallback.
func (c *Client) StartRecording(ctx context.Context, callSID, statusCallback string) (*Recording, error) {
	ctx, span := tracer.Start(ctx, "start recording", trace.WithAttributes(attribute.String("twilio.call_sid", callSID)))
	defer span.End()

	recording, err := c.startRecording(ctx, callSID, statusCallback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("twilio.recording_sid", recording.SID))
	logger.InfoContext(ctx, "recording created", "call_sid", callSID, "recording_sid", recording.SID)
	return recording, nil
}

func (c *Client) startRecording(ctx context.Context, callSID, statusCallback string) (*Recording, error) {
	if c.startDelay > 0 {
		timer := time.NewTimer(c.startDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	form := url.Values{
		"RecordingChannels":            {"dual"},
		"RecordingStatusCallbackEvent": {"completed"},
	}
	if statusCallback != "" {
		form.Set("RecordingStatusCallback", statusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s/Recordings.json",
		c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create recording request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusBadRequest {
			logger.WarnContext(ctx, "failed to create recording", "status", resp.Status, "body", string(body))
			return nil, fmt.Errorf("%w: %s", ErrRecordingRejected, strings.TrimSpace(string(body)))
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	var recording Recording
	if err := json.NewDecoder(resp.Body).Decode(&recording); err != nil {
		return nil, fmt.Errorf("failed to decode recording: %w", err)
	}
	return &recording, nil
}
