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
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithTemplate sets the defaults every document starts from after SetID.
func WithTemplate(template Document) Option {
	return func(c *Client) {
		c.template = template.Copy()
	}
}

// WithDateFields configures the date fields copied by StageDates, mapping
// field name to a time layout as understood by time.Time.Format.
func WithDateFields(fields map[string]string) Option {
	return func(c *Client) {
		c.dateFields = copyFormats(fields)
	}
}

// WithValueFields configures the value fields copied by StageValues,
// mapping field name to a fmt format string. An empty format stages the raw
// value.
func WithValueFields(fields map[string]string) Option {
	return func(c *Client) {
		c.valueFields = copyFormats(fields)
	}
}

func copyFormats(fields map[string]string) map[string]string {
	c := make(map[string]string, len(fields))
	for k, v := range fields {
		c[k] = v
	}
	return c
}

// WithTransport replaces the HTTP transport with t and s. The connection
// configuration is then only used for logging.
func WithTransport(t Transport, s ContentStore) Option {
	return func(c *Client) {
		c.transport = t
		c.store = s
	}
}

// WithHTTPClient sets the *http.Client used to reach the server. By default
// a client honoring the connection's timeout is created.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the structured logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records synchronization activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithAttachmentPolicy decides whether attachment failures fail a commit.
// The default is IgnoreAttachmentErrors.
func WithAttachmentPolicy(p AttachmentPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithUserAgent appends ua to the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgents = append(c.userAgents, ua)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
