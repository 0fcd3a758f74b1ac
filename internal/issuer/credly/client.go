// Package credly integrates with the Credly badge platform: outbound badge
// issuance and revocation, and the inbound webhook Credly posts state changes
// to.
package credly

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"insignia/internal/issuer"
	derrors "insignia/pkg/domain-errors"
)

// Config carries the Credly organization credentials.
type Config struct {
	APIBaseURL     string
	OrganizationID string
	APIKey         string
	WebhookSecret  string
}

// Client talks to the Credly REST API on behalf of one organization.
type Client struct {
	baseURL        string
	organizationID string
	authToken      string
	http           *http.Client
	logger         *slog.Logger
}

// Option configures optional Client collaborators.
type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIBaseURL == "" || cfg.OrganizationID == "" || cfg.APIKey == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "credly base URL, organization and API key are required")
	}
	client := &Client{
		baseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		organizationID: cfg.OrganizationID,
		authToken:      base64.StdEncoding.EncodeToString([]byte(cfg.APIKey)),
		http:           &http.Client{Timeout: 10 * time.Second},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type issueBadgeRequest struct {
	RecipientEmail    string `json:"recipient_email"`
	IssuedToFirstName string `json:"issued_to_first_name"`
	IssuedToLastName  string `json:"issued_to_last_name"`
	BadgeTemplateID   string `json:"badge_template_id"`
	IssuedAt          string `json:"issued_at"`
}

type badgeResponse struct {
	Data struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"data"`
}

// Award issues a Credly badge to the recipient. The local template ID doubles
// as the Credly badge template ID for credly-origin templates.
func (c *Client) Award(ctx context.Context, req issuer.Request) (issuer.Issuance, error) {
	if req.User.Email == "" {
		return issuer.Issuance{}, derrors.Newf(derrors.CodeInvalidState,
			"user %s has no email; credly requires a recipient email", req.User.Username)
	}
	first, last := splitFullName(req.User.FullName, req.User.Username)

	var out badgeResponse
	err := c.do(ctx, http.MethodPost, "badges", issueBadgeRequest{
		RecipientEmail:    req.User.Email,
		IssuedToFirstName: first,
		IssuedToLastName:  last,
		BadgeTemplateID:   req.Template.ID.String(),
		IssuedAt:          time.Now().UTC().Format(time.RFC3339),
	}, &out)
	if err != nil {
		return issuer.Issuance{}, err
	}
	return issuer.Issuance{ExternalID: out.Data.ID, State: out.Data.State}, nil
}

type revokeBadgeRequest struct {
	Reason string `json:"reason"`
}

// Revoke marks the previously issued Credly badge revoked.
func (c *Client) Revoke(ctx context.Context, req issuer.Request) error {
	suffix := fmt.Sprintf("badges/%s/revoke", req.Badge.ExternalID)
	return c.do(ctx, http.MethodPut, suffix, revokeBadgeRequest{
		Reason: "internal user credential was revoked",
	}, nil)
}

func (c *Client) do(ctx context.Context, method, suffix string, body, out any) error {
	url := fmt.Sprintf("%s/organizations/%s/%s", c.baseURL, c.organizationID, suffix)

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode credly request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("build credly request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.authToken)

	c.logger.DebugContext(ctx, "credly api call", "method", method, "url", url)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("credly request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return derrors.Newf(derrors.CodeInternal, "credly returned %s: %s", resp.Status, string(detail))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode credly response: %w", err)
	}
	return nil
}

// splitFullName breaks "First Middle Last" into Credly's first/last pair.
// Falls back to the username when no full name was captured.
func splitFullName(fullName, fallback string) (string, string) {
	fields := strings.Fields(fullName)
	switch len(fields) {
	case 0:
		return fallback, fallback
	case 1:
		return fields[0], fields[0]
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
