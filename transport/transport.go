// Package transport decorates outbound HTTP requests with session
// credentials and recovers transparently from token-expiry races. It is an
// explicit, composable pipeline (auth-header injector, retry-on-401, base
// send) invoked intentionally by call sites; it holds no session state of
// its own and always asks the session manager for the current token.
package transport

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"authkit/autherr"
)

// Doer performs one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware wraps a Doer with additional behavior.
type Middleware func(Doer) Doer

// Chain applies middleware around base in reverse order, so the first
// middleware listed is the outermost.
func Chain(base Doer, mw ...Middleware) Doer {
	chained := base
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// SessionTokens is the slice of the session manager the pipeline needs.
type SessionTokens interface {
	GetValidAccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
	Logout(ctx context.Context)
}

// BearerAuth injects the current access token as a bearer credential. When
// no valid or refreshable token is available it fails before any network
// call is made.
func BearerAuth(tokens SessionTokens) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			accessToken, err := tokens.GetValidAccessToken(req.Context())
			if err != nil {
				return nil, errors.Wrap(err, "[BearerAuth]")
			}
			req.Header.Set("Authorization", "Bearer "+accessToken)
			return next.Do(req)
		})
	}
}

// RetryOnUnauthorized recovers from a 401 on a token the client believed
// valid moments ago (clock skew or server-side early revocation): exactly
// one forced refresh and one retry. A second 401 ends the session and
// surfaces ErrUnauthenticated; it never loops, so a backend outage cannot
// amplify request volume.
func RetryOnUnauthorized(tokens SessionTokens) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.Do(req)
			if err != nil || resp.StatusCode != http.StatusUnauthorized {
				return resp, err
			}

			retry, err := rewind(req)
			if err != nil {
				return resp, nil // can't replay the body; hand back the 401
			}
			resp.Body.Close()

			accessToken, err := tokens.ForceRefresh(req.Context())
			if err != nil {
				return nil, errors.Wrap(err, "[RetryOnUnauthorized] refresh")
			}
			retry.Header.Set("Authorization", "Bearer "+accessToken)

			resp, err = next.Do(retry)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusUnauthorized {
				resp.Body.Close()
				tokens.Logout(req.Context())
				return nil, autherr.Wrapf(autherr.ErrUnauthenticated, "request re-rejected after refresh")
			}
			return resp, nil
		})
	}
}

// rewind clones the request with a replayable body.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, errors.Wrap(err, "rewinding request body")
	}
	retry.Body = body
	return retry, nil
}

// Client is the assembled authenticated pipeline.
type Client struct {
	doer Doer
}

// NewClient builds the standard pipeline over base: bearer injection on the
// way in, single retry-after-refresh on the way back.
func NewClient(base Doer, tokens SessionTokens) *Client {
	return &Client{
		doer: Chain(base, BearerAuth(tokens), RetryOnUnauthorized(tokens)),
	}
}

// Send performs req with credentials attached. The caller owns the
// response body.
func (c *Client) Send(req *http.Request) (*http.Response, error) {
	return c.doer.Do(req)
}
