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

package couchdoc

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-kivik/couchdoc/chttp"
)

type customTransport func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = customTransport(nil)

func (t customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t(req)
}

func newCustomDB(fn func(*http.Request) (*http.Response, error)) *db {
	chttpClient, _ := chttp.New(&http.Client{Transport: customTransport(fn)}, "http://example.com/", nil)
	return &db{
		dbName: "testdb",
		client: chttpClient,
	}
}

// newTestDB returns a db whose every request yields response, or err.
func newTestDB(response *http.Response, err error) *db {
	return newCustomDB(func(req *http.Request) (*http.Response, error) {
		if req.Body != nil {
			defer req.Body.Close() // nolint: errcheck
			if _, e := io.ReadAll(req.Body); e != nil {
				return nil, e
			}
		}
		if err != nil {
			return nil, err
		}
		response.Request = req
		return response, nil
	})
}

// Body returns an io.ReadCloser from a string.
func Body(str string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(str))
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": {"application/json"}},
		ContentLength: int64(len(body)),
		Body:          Body(body),
	}
}
