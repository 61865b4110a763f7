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

package chttp

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	"golang.org/x/net/publicsuffix"
)

// CookieAuth authenticates with a CouchDB session cookie obtained from
// POST /_session. The session is renewed a minute before the cookie expires,
// and after any 401 response.
//
// CookieAuth keeps session state, so each Client needs its own.
type CookieAuth struct {
	Username string `json:"name"`
	Password string `json:"password"`

	client *Client
	next   http.RoundTripper
	// renewAt is nil while there is no session. A zero time means the
	// server did not say when the session expires.
	renewAt *time.Time
}

var _ Authenticator = &CookieAuth{}

type sessionRequestKey struct{}

// Authenticate installs the cookie session on c, adding a cookie jar if c
// has none.
func (a *CookieAuth) Authenticate(c *Client) error {
	if c.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return err
		}
		c.Jar = jar
	}
	a.client = c
	a.next = c.Transport
	if a.next == nil {
		a.next = http.DefaultTransport
	}
	c.Transport = a
	return nil
}

// Cookie returns the current session cookie, or nil.
func (a *CookieAuth) Cookie() *http.Cookie {
	if a.client == nil || a.client.Jar == nil {
		return nil
	}
	return sessionCookie(a.client.Jar.Cookies(a.client.dsn))
}

func sessionCookie(cookies []*http.Cookie) *http.Cookie {
	for _, c := range cookies {
		if c.Name == kivik.SessionCookieName {
			return c
		}
	}
	return nil
}

// RoundTrip satisfies http.RoundTripper.
func (a *CookieAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	// The session request itself runs while login holds the lock.
	if req.Context().Value(sessionRequestKey{}) != nil {
		return a.next.RoundTrip(req)
	}
	if err := a.login(req); err != nil {
		return nil, err
	}
	res, err := a.next.RoundTrip(req)
	if err != nil {
		return res, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		a.logout()
	}
	return res, nil
}

// current reports whether req can be sent with the existing session.
func (a *CookieAuth) current(req *http.Request) bool {
	if _, err := req.Cookie(kivik.SessionCookieName); err == nil {
		return true
	}
	if a.renewAt == nil {
		return false
	}
	return a.renewAt.IsZero() || time.Now().Before(*a.renewAt)
}

func (a *CookieAuth) login(req *http.Request) error {
	a.client.authMU.Lock()
	defer a.client.authMU.Unlock()
	if a.current(req) {
		return nil
	}
	ctx := context.WithValue(req.Context(), sessionRequestKey{}, true)
	res, err := a.client.DoError(ctx, http.MethodPost, "/_session", &Options{
		GetBody: BodyEncoder(a),
	})
	if err != nil {
		return err
	}
	if c := sessionCookie(res.Cookies()); c != nil {
		renewAt := c.Expires
		if !renewAt.IsZero() {
			renewAt = renewAt.Add(-time.Minute)
		}
		a.renewAt = &renewAt
	}

	// req was prepared before the session existed, so swap in the new cookie.
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != kivik.SessionCookieName {
			req.AddCookie(c)
		}
	}
	if c := a.Cookie(); c != nil {
		req.AddCookie(c)
	}
	return nil
}

// logout drops the session so the next request logs in again.
func (a *CookieAuth) logout() {
	a.client.authMU.Lock()
	defer a.client.authMU.Unlock()
	if c := a.Cookie(); c != nil {
		c.MaxAge = -1
		a.client.Jar.SetCookies(a.client.dsn, []*http.Cookie{c})
	}
	a.renewAt = nil
}
