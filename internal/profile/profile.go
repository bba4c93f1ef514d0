// Package profile checks that the signed-in user has completed onboarding
// before matching starts, and supplies their display name.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoProfile means the user has no profile yet and must onboard first.
var ErrNoProfile = errors.New("profile: onboarding required")

// Profile is the subset of the stored profile the client uses.
type Profile struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// DisplayName returns the name to show to a match.
func (p *Profile) DisplayName() string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	return strings.TrimSpace(p.Username)
}

type meResponse struct {
	Profile *Profile `json:"profile"`
}

// Client talks to the profile API.
type Client struct {
	http *resty.Client
}

// NewClient creates a Client for baseURL. token, when set, is sent as a
// bearer token.
func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Cache-Control", "no-store")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// Me fetches the caller's profile. A non-2xx response or an empty profile
// returns ErrNoProfile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out meResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/profiles/me")
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w (status %d)", ErrNoProfile, resp.StatusCode())
	}
	if out.Profile == nil {
		return nil, ErrNoProfile
	}
	return out.Profile, nil
}
