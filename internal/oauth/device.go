package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/flowlab/oauth-playground/internal/errors"
	"github.com/flowlab/oauth-playground/internal/flows"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Device polling outcomes, matched with errors.Is.
var (
	ErrAuthorizationPending = &apperrors.OAuthError{Code: "authorization_pending"}
	ErrSlowDown             = &apperrors.OAuthError{Code: "slow_down"}
	ErrExpiredToken         = &apperrors.OAuthError{Code: "expired_token"}
	ErrAccessDenied         = &apperrors.OAuthError{Code: "access_denied"}
)

// slowDownStep is added to the interval on every slow_down (RFC 8628 §3.5).
const slowDownStep = 5 * time.Second

// DeviceAuthorization is the device authorization response plus polling state.
type DeviceAuthorization struct {
	DeviceCode              string    `json:"device_code"`
	UserCode                string    `json:"user_code"`
	VerificationURI         string    `json:"verification_uri"`
	VerificationURIComplete string    `json:"verification_uri_complete,omitempty"`
	Interval                int64     `json:"interval"`
	Expiry                  time.Time `json:"expiry"`
	LastPoll                time.Time `json:"last_poll,omitempty"`
}

// PollInterval returns the current interval, at least five seconds.
func (d *DeviceAuthorization) PollInterval() time.Duration {
	if d.Interval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(d.Interval) * time.Second
}

// NextPoll returns when the next poll is allowed.
func (d *DeviceAuthorization) NextPoll() time.Time {
	if d.LastPoll.IsZero() {
		return time.Time{}
	}
	return d.LastPoll.Add(d.PollInterval())
}

// Expired reports whether the device code has expired.
func (d *DeviceAuthorization) Expired(now time.Time) bool {
	return !d.Expiry.IsZero() && now.After(d.Expiry)
}

// StartDeviceAuthorization requests a device and user code. The device
// authorization endpoint takes the client secret as a form parameter when
// one is configured.
func (c *Client) StartDeviceAuthorization(ctx context.Context, scopes []string) (*DeviceAuthorization, error) {
	var opts []oauth2.AuthCodeOption
	if c.cfg.AuthMethod.NeedsSecret() && c.cfg.ClientSecret != "" {
		opts = append(opts, oauth2.SetAuthURLParam("client_secret", c.cfg.ClientSecret))
	}
	resp, err := c.oauth2Config(scopes).DeviceAuth(c.oauth2Context(ctx), opts...)
	if err != nil {
		return nil, convertError(err)
	}
	return &DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		Interval:                resp.Interval,
		Expiry:                  resp.Expiry,
	}, nil
}

// PollDeviceToken makes one token request for the device code. Pending and
// slow_down answers come back as errors matching ErrAuthorizationPending and
// ErrSlowDown; slow_down also raises da.Interval by five seconds. da.LastPoll
// is updated on every call.
func (c *Client) PollDeviceToken(ctx context.Context, da *DeviceAuthorization) (*TokenSet, error) {
	if da == nil || strings.TrimSpace(da.DeviceCode) == "" {
		return nil, fmt.Errorf("oauth: no device authorization in progress")
	}
	now := c.now()
	if da.Expired(now) {
		return nil, ErrExpiredToken
	}
	da.LastPoll = now

	form := url.Values{
		"grant_type":  {flows.GrantDeviceCode},
		"device_code": {da.DeviceCode},
	}
	_, body, err := c.postForm(ctx, c.endpoints.Token, form)
	if err != nil {
		if errors.Is(err, ErrSlowDown) {
			da.Interval = int64((da.PollInterval() + slowDownStep) / time.Second)
		}
		return nil, err
	}
	return parseTokenBody(body, c.now())
}

// WaitForDeviceToken polls until the user approves, denies or the code
// expires, honouring the interval and slow_down. onPending is called after
// every pending answer and may be nil.
func (c *Client) WaitForDeviceToken(ctx context.Context, da *DeviceAuthorization, onPending func(*DeviceAuthorization)) (*TokenSet, error) {
	for {
		wait := da.PollInterval()
		if da.LastPoll.IsZero() {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		ts, err := c.PollDeviceToken(ctx, da)
		switch {
		case err == nil:
			return ts, nil
		case errors.Is(err, ErrAuthorizationPending):
			if onPending != nil {
				onPending(da)
			}
		case errors.Is(err, ErrSlowDown):
			log.Debugf("device poll slow_down, interval now %ds", da.Interval)
			if onPending != nil {
				onPending(da)
			}
		default:
			return nil, err
		}
	}
}
