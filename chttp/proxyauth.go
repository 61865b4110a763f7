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
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
)

// ProxyAuth provides support for CouchDB's proxy authentication, where the
// user name and roles are trusted from request headers, optionally signed
// with a shared secret.
type ProxyAuth struct {
	Username string
	Secret   string
	Roles    []string
	Headers  http.Header

	transport http.RoundTripper
}

var _ Authenticator = &ProxyAuth{}

func (a *ProxyAuth) header(header string) string {
	if h := a.Headers.Get(header); h != "" {
		return http.CanonicalHeaderKey(h)
	}
	return header
}

// RoundTrip fulfills the http.RoundTripper interface. It sets the proxy auth
// headers on outbound requests.
func (a *ProxyAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	// Convert roles slice to comma separated values
	rolesCsv := strings.Join(a.Roles, ",")

	// If the secret is an empty string, do not calculate the token
	if a.Secret != "" {
		// Generate auth token
		// https://docs.couchdb.org/en/stable/config/auth.html#couch_httpd_auth/x_auth_token
		h := hmac.New(sha1.New, []byte(a.Secret))
		_, _ = h.Write([]byte(a.Username))
		token := hex.EncodeToString(h.Sum(nil))
		req.Header.Set(a.header("X-Auth-CouchDB-Token"), token)
	}

	// Add headers to request
	req.Header.Set(a.header("X-Auth-CouchDB-UserName"), a.Username)
	req.Header.Set(a.header("X-Auth-CouchDB-Roles"), rolesCsv)

	return a.transport.RoundTrip(req)
}

// Authenticate installs the proxy auth headers on the client's transport.
func (a *ProxyAuth) Authenticate(c *Client) error {
	a.transport = c.Transport
	if a.transport == nil {
		a.transport = http.DefaultTransport
	}
	c.Transport = a
	return nil
}
