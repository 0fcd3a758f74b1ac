// Package accredible integrates with the Accredible credential platform.
package accredible

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"insignia/internal/issuer"
	derrors "insignia/pkg/domain-errors"
)

// Config carries the Accredible API credentials. GroupID selects the
// credential group badges are issued into.
type Config struct {
	APIBaseURL string
	APIKey     string
	GroupID    int64
}

// Client talks to the Accredible REST API.
type Client struct {
	baseURL string
	apiKey  string
	groupID int64
	http    *http.Client
	logger  *slog.Logger
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
	if cfg.APIBaseURL == "" || cfg.APIKey == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "accredible base URL and API key are required")
	}
	client := &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.APIKey,
		groupID: cfg.GroupID,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type credential struct {
	Recipient recipient `json:"recipient"`
	GroupID   int64     `json:"group_id"`
	Name      string    `json:"name"`
	IssuedOn  string    `json:"issued_on"`
	Complete  bool      `json:"complete"`
}

type issueCredentialRequest struct {
	Credential credential `json:"credential"`
}

type credentialResponse struct {
	Credential struct {
		ID int64 `json:"id"`
	} `json:"credential"`
}

// Award issues an Accredible credential into the configured group.
func (c *Client) Award(ctx context.Context, req issuer.Request) (issuer.Issuance, error) {
	if req.User.Email == "" {
		return issuer.Issuance{}, derrors.Newf(derrors.CodeInvalidState,
			"user %s has no email; accredible requires a recipient email", req.User.Username)
	}
	name := req.User.FullName
	if name == "" {
		name = req.User.Username
	}

	var out credentialResponse
	err := c.do(ctx, http.MethodPost, "credentials", issueCredentialRequest{
		Credential: credential{
			Recipient: recipient{Name: name, Email: req.User.Email},
			GroupID:   c.groupID,
			Name:      req.Template.Name,
			IssuedOn:  time.Now().UTC().Format("2006-01-02"),
			Complete:  true,
		},
	}, &out)
	if err != nil {
		return issuer.Issuance{}, err
	}
	return issuer.Issuance{
		ExternalID: strconv.FormatInt(out.Credential.ID, 10),
		State:      "accepted",
	}, nil
}

type expireCredentialRequest struct {
	Credential struct {
		ExpiredOn string `json:"expired_on"`
	} `json:"credential"`
}

// Revoke expires the previously issued credential. Accredible has no hard
// revocation; expiry is the provider's equivalent.
func (c *Client) Revoke(ctx context.Context, req issuer.Request) error {
	var body expireCredentialRequest
	body.Credential.ExpiredOn = time.Now().UTC().Format("2006-01-02")
	return c.do(ctx, http.MethodPatch, "credentials/"+req.Badge.ExternalID, body, nil)
}

func (c *Client) do(ctx context.Context, method, suffix string, body, out any) error {
	url := c.baseURL + "/" + suffix

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode accredible request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("build accredible request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.DebugContext(ctx, "accredible api call", "method", method, "url", url)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("accredible request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return derrors.Newf(derrors.CodeInternal, "accredible returned %s: %s", resp.Status, string(detail))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode accredible response: %w", err)
	}
	return nil
}
