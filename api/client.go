// Package api is the typed client for the auth backend's four endpoints.
// It owns the wire format and the mapping from HTTP status codes to the
// shared error taxonomy; callers above it never inspect status codes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"authkit/autherr"
)

// AuthAPI is the backend boundary the session manager depends on.
type AuthAPI interface {
	Login(ctx context.Context, identifier, secret string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (*UserProfile, error)
}

// apiRequest describes one call to the backend.
type apiRequest struct {
	method      string
	path        string
	bearerToken string
	reqBodyObj  interface{}
	successCode int
	respObj     interface{}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

var _ AuthAPI = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[api.NewClient] baseURL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		timeout:    10 * time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Login exchanges user credentials for a token set. A 4xx rejection maps to
// ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*TokenResponse, error) {
	resp := &TokenResponse{}
	err := c.executeAPIRequest(ctx, apiRequest{
		method:      http.MethodPost,
		path:        "auth/login",
		reqBodyObj:  loginRequest{Identifier: identifier, Secret: secret},
		successCode: http.StatusOK,
		respObj:     resp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	return resp, nil
}

// Refresh mints a new token set. The refresh token travels only in the
// request body. A 4xx rejection maps to ErrRefreshRejected and is terminal
// for the session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp := &TokenResponse{}
	err := c.executeAPIRequest(ctx, apiRequest{
		method:      http.MethodPost,
		path:        "auth/refresh",
		reqBodyObj:  refreshRequest{RefreshToken: refreshToken},
		successCode: http.StatusOK,
		respObj:     resp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	return resp, nil
}

// Logout notifies the server that the session is over. Best effort; callers
// treat failures as advisory.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	err := c.executeAPIRequest(ctx, apiRequest{
		method:      http.MethodPost,
		path:        "auth/logout",
		bearerToken: accessToken,
		successCode: http.StatusOK,
	})
	return errors.Wrap(err, "[Client.Logout]")
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context, accessToken string) (*UserProfile, error) {
	profile := &UserProfile{}
	err := c.executeAPIRequest(ctx, apiRequest{
		method:      http.MethodGet,
		path:        "auth/me",
		bearerToken: accessToken,
		successCode: http.StatusOK,
		respObj:     profile,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	return profile, nil
}

func (c *Client) executeAPIRequest(ctx context.Context, apiReq apiRequest) error {
	// The timeout context must outlive submitAPIRequest: the response body is
	// streamed and cancelling before it is drained aborts the read.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.submitAPIRequest(ctx, apiReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if apiReq.respObj != nil {
		respBodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return autherr.Wrapf(autherr.ErrNetwork, "error reading response body: %v", err)
		}
		if err := json.Unmarshal(respBodyBytes, apiReq.respObj); err != nil {
			return errors.Wrap(err, "error unmarshaling response body")
		}
	}
	return nil
}

func (c *Client) submitAPIRequest(ctx context.Context, apiReq apiRequest) (*http.Response, error) {
	var reqBodyReader io.Reader
	if apiReq.reqBodyObj != nil {
		reqBodyBytes, err := json.Marshal(apiReq.reqBodyObj)
		if err != nil {
			return nil, errors.Wrap(err, "error marshaling request body")
		}
		reqBodyReader = bytes.NewBuffer(reqBodyBytes)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		apiReq.method,
		fmt.Sprintf("%s/%s", c.baseURL, apiReq.path),
		reqBodyReader,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating request %s %s", apiReq.method, apiReq.path)
	}
	if reqBodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiReq.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiReq.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Wrapf(autherr.ErrNetwork, "%s %s: %v", apiReq.method, apiReq.path, err)
	}

	if resp.StatusCode != apiReq.successCode {
		defer resp.Body.Close()
		c.logger.Debug().
			Str("method", apiReq.method).
			Str("path", apiReq.path).
			Int("status", resp.StatusCode).
			Msg("api request rejected")
		return nil, c.statusError(apiReq, resp.StatusCode)
	}
	return resp, nil
}

// statusError maps a non-success status to the shared taxonomy. The mapping
// depends on which endpoint was called: a 401 means bad user credentials on
// login but a dead session on refresh.
func (c *Client) statusError(apiReq apiRequest, status int) error {
	switch {
	case status >= 500:
		return autherr.Wrapf(autherr.ErrServer, "%s returned %d", apiReq.path, status)
	case apiReq.path == "auth/login" && status >= 400 && status < 500:
		return autherr.Wrapf(autherr.ErrInvalidCredentials, "%s returned %d", apiReq.path, status)
	case apiReq.path == "auth/refresh" && status >= 400 && status < 500:
		return autherr.Wrapf(autherr.ErrRefreshRejected, "%s returned %d", apiReq.path, status)
	case status == http.StatusUnauthorized:
		return autherr.Wrapf(autherr.ErrUnauthenticated, "%s returned %d", apiReq.path, status)
	default:
		return errors.Errorf("%s returned unexpected status %d", apiReq.path, status)
	}
}
