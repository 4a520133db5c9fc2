// Package keycloak provides a client for interacting with the Keycloak Admin REST API.
package keycloak

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/metrics"
)

// DefaultAdminRealm is the realm the admin user authenticates against.
const DefaultAdminRealm = "master"

// adminClientID is the built-in public client used for the password grant.
const adminClientID = "admin-cli"

// Client provides methods to interact with the Keycloak Admin REST API.
//
// A Client holds the bearer token of exactly one session. It is not safe for
// concurrent use and is expected to live for a single provisioning run.
type Client struct {
	baseURL   string
	authRealm string
	username  string
	password  string

	httpClient *resty.Client
	token      string
	log        logr.Logger
}

// Config holds Keycloak client configuration
type Config struct {
	BaseURL  string
	Realm    string // admin realm, defaults to "master"
	Username string
	Password string
	Timeout  time.Duration // per request, defaults to 30s
}

// TokenResponse represents an OAuth2 token response
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

// NewClient creates a new Keycloak client. The client starts unauthenticated;
// call Authenticate before any admin operation.
func NewClient(cfg Config, log logr.Logger) *Client {
	if cfg.Realm == "" {
		cfg.Realm = DefaultAdminRealm
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			metrics.RecordAPIRequest(resp.Request.Method, resp.StatusCode())
			return nil
		}).
		OnError(func(req *resty.Request, _ error) {
			metrics.RecordAPIRequest(req.Method, 0)
		})

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		authRealm:  cfg.Realm,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
		log:        log.WithName("keycloak-client"),
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticated reports whether the client holds a bearer token.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// Authenticate fetches an admin token with the resource-owner password grant
// and stores it for all following calls. A failure leaves the previous token
// untouched and is returned as *AuthError.
func (c *Client) Authenticate(ctx context.Context) error {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, url.PathEscape(c.authRealm))

	var token TokenResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": "password",
			"client_id":  adminClientID,
			"username":   c.username,
			"password":   c.password,
		}).
		SetResult(&token).
		Post(tokenURL)
	if err != nil {
		return &AuthError{Err: fmt.Errorf("request failed: %w", err)}
	}

	if resp.IsError() {
		return &AuthError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("%s: %s", resp.Status(), string(resp.Body()))}
	}

	if token.AccessToken == "" {
		return &AuthError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("token response carried no access token")}
	}

	c.token = token.AccessToken
	c.log.V(1).Info("obtained admin token", "realm", c.authRealm, "expiresIn", token.ExpiresIn)
	return nil
}

// request creates an authenticated request
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	return c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(c.token), nil
}

// send executes an authenticated request. Only transport failures are
// returned as errors; the caller decides what a status code means.
func (c *Client) send(ctx context.Context, method, path string, body, result interface{}, params map[string]string) (*resty.Response, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	if params != nil {
		req.SetQueryParams(params)
	}

	resp, err := req.Execute(method, c.baseURL+path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: request failed: %w", method, path, err)
	}
	return resp, nil
}

// ============================================================================
// Generic Operations
// ============================================================================

// Create creates a resource and returns its ID (from Location header).
// The ID is empty when the server does not send a Location header.
func (c *Client) Create(ctx context.Context, path string, body interface{}) (string, error) {
	resp, err := c.send(ctx, resty.MethodPost, path, body, nil, nil)
	if err != nil {
		return "", err
	}

	if resp.IsError() {
		return "", newAPIError(resty.MethodPost, path, resp)
	}

	// Extract ID from Location header
	location := resp.Header().Get("Location")
	if location != "" {
		parts := strings.Split(strings.TrimSuffix(location, "/"), "/")
		return parts[len(parts)-1], nil
	}

	return "", nil
}

// Get retrieves a resource
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.list(ctx, path, nil, result)
}

// list retrieves a resource with query parameters
func (c *Client) list(ctx context.Context, path string, params map[string]string, result interface{}) error {
	resp, err := c.send(ctx, resty.MethodGet, path, nil, result, params)
	if err != nil {
		return err
	}

	if resp.IsError() {
		return newAPIError(resty.MethodGet, path, resp)
	}

	return nil
}

// Update replaces a resource
func (c *Client) Update(ctx context.Context, path string, body interface{}) error {
	resp, err := c.send(ctx, resty.MethodPut, path, body, nil, nil)
	if err != nil {
		return err
	}

	if resp.IsError() {
		return newAPIError(resty.MethodPut, path, resp)
	}

	return nil
}

// exists reports whether a GET on path succeeds. Any non-success status,
// 404 included, counts as absent.
func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	resp, err := c.send(ctx, resty.MethodGet, path, nil, nil, nil)
	if err != nil {
		return false, err
	}
	return resp.IsSuccess(), nil
}

func realmPath(realmName string) string {
	return "/admin/realms/" + url.PathEscape(realmName)
}
