// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package chttp provides a minimal HTTP driver backend for communicating with
// CouchDB servers.
package chttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const (
	typeJSON  = "application/json"
	userAgent = "couchdoc-chttp"
)

// Client represents a client connection. It embeds an *http.Client
type Client struct {
	// UserAgents is appended to set the User-Agent header. Typically it should
	// contain pairs of product name and version.
	UserAgents []string

	*http.Client

	rawDSN string
	dsn    *url.URL
	authMU sync.Mutex
}

// New returns a connection to a remote CouchDB server. If credentials are
// included in the URL, requests will be authenticated using HTTP Basic Auth,
// unless auth is non-nil, in which case auth is used instead.
//
// The *http.Client is used for all requests. If nil, a new client is created.
func New(client *http.Client, dsn string, auth Authenticator) (*Client, error) {
	dsnURL, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	user := dsnURL.User
	dsnURL.User = nil
	if client == nil {
		client = &http.Client{}
	}
	c := &Client{
		Client: client,
		dsn:    dsnURL,
		rawDSN: dsn,
	}
	if auth == nil && user != nil {
		password, _ := user.Password()
		auth = &BasicAuth{
			Username: user.Username(),
			Password: password,
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, &HTTPError{Code: http.StatusBadRequest, Reason: "no URL specified"}
	}
	if !strings.HasPrefix(dsn, "http://") && !strings.HasPrefix(dsn, "https://") {
		dsn = "http://" + dsn
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "chttp: invalid DSN")
	}
	if dsnURL.Path == "" {
		dsnURL.Path = "/"
	}
	return dsnURL, nil
}

// DSN returns the unparsed DSN used to connect.
func (c *Client) DSN() string {
	return c.rawDSN
}

// Auth authenticates using the provided Authenticator.
func (c *Client) Auth(a Authenticator) error {
	return a.Authenticate(c)
}

// NewRequest returns a new *http.Request to the CouchDB server, and the
// specified path. The host, schema, etc, of the specified path are ignored.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader, opts *Options) (*http.Request, error) {
	base := c.dsn.Path
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	reqPath, err := url.Parse(base + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, &HTTPError{Code: http.StatusBadRequest, Reason: err.Error()}
	}
	u := *c.dsn
	u.Path = reqPath.Path
	u.RawPath = reqPath.RawPath
	u.RawQuery = reqPath.RawQuery
	if opts != nil && len(opts.Query) > 0 {
		query := u.Query()
		for k, v := range opts.Query {
			query[k] = append(query[k], v...)
		}
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "chttp: failed to create request")
	}
	req.Header.Add("User-Agent", c.userAgent())
	return req, nil
}

func (c *Client) userAgent() string {
	return strings.Join(append([]string{userAgent}, c.UserAgents...), " ")
}

// DoReq does an HTTP request. An error is returned only if there was an
// error processing the request. In particular, an error status code, such as
// 400 or 500, does _not_ cause an error to be returned.
func (c *Client) DoReq(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	if method == "" {
		return nil, &HTTPError{Code: http.StatusBadRequest, Reason: "chttp: method required"}
	}
	body, err := requestBody(opts)
	if err != nil {
		return nil, err
	}
	req, err := c.NewRequest(ctx, method, path, body, opts)
	if err != nil {
		return nil, err
	}
	setHeaders(req, opts)
	if opts != nil && opts.GetBody != nil {
		req.GetBody = opts.GetBody
	}

	trace := ContextClientTrace(ctx)
	resp, err := c.Do(req)
	if trace != nil && resp != nil {
		trace.observe(resp)
	}
	return resp, err
}

func requestBody(opts *Options) (io.Reader, error) {
	if opts == nil {
		return nil, nil
	}
	if opts.GetBody != nil {
		return opts.GetBody()
	}
	if opts.JSON != nil {
		if opts.Body != nil {
			return nil, &HTTPError{Code: http.StatusBadRequest, Reason: "chttp: Body and JSON are mutually exclusive"}
		}
		return EncodeBody(opts.JSON)
	}
	return opts.Body, nil
}

func setHeaders(req *http.Request, opts *Options) {
	accept := typeJSON
	contentType := typeJSON
	if opts != nil {
		if opts.Accept != "" {
			accept = opts.Accept
		}
		if opts.ContentType != "" && opts.JSON == nil {
			contentType = opts.ContentType
		}
		for k, v := range opts.Header {
			if _, ok := req.Header[k]; !ok {
				req.Header[k] = v
			}
		}
	}
	req.Header.Add("Accept", accept)
	req.Header.Add("Content-Type", contentType)
}

// DoError is the same as DoReq(), followed by checking the response for error
// status codes. On success, the response body is closed, so only the status
// and headers remain usable.
func (c *Client) DoError(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return res, err
	}
	if err := ResponseError(res); err != nil {
		return res, err
	}
	_ = res.Body.Close()
	return res, nil
}

// DoJSON combines DoReq() and ResponseError(), and (if there are no errors)
// unmarshals the response body into i.
func (c *Client) DoJSON(ctx context.Context, method, path string, opts *Options, i interface{}) error {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if err := ResponseError(res); err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if i == nil {
		_, err = io.Copy(io.Discard, res.Body)
		return err
	}
	if err := json.NewDecoder(res.Body).Decode(i); err != nil {
		return &HTTPError{Code: http.StatusBadGateway, Reason: "chttp: invalid JSON in response: " + err.Error()}
	}
	return nil
}
