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
	"context"
	"log/slog"
	"net/http"

	"github.com/go-kivik/couchdoc/chttp"
	"github.com/go-kivik/couchdoc/config"
)

// Client persists one logical document at a time. Stage the document with
// SetID and the staging methods, then call Commit. A Client is not safe for
// concurrent use.
type Client struct {
	conn        config.Connection
	template    Document
	dateFields  map[string]string
	valueFields map[string]string
	policy      AttachmentPolicy
	httpClient  *http.Client
	userAgents  []string
	logger      *slog.Logger
	metrics     *Metrics

	// transport and store are established on first use.
	transport Transport
	store     ContentStore

	id          string
	doc         Document
	attachments map[string]*Attachment
	results     []AttachmentResult
	failure     *Failure
}

// New returns a Client for the database described by conn.
func New(conn config.Connection, opts ...Option) (*Client, error) {
	c := &Client{
		conn:        conn,
		template:    Document{},
		attachments: map[string]*Attachment{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		if err := conn.Validate(); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = discardLogger()
	}
	c.logger = c.logger.With("database", conn.Database)
	c.doc = c.template.Copy()
	return c, nil
}

func (c *Client) connect() error {
	if c.transport != nil {
		return nil
	}
	hc := c.httpClient
	if hc == nil {
		hc = c.conn.HTTPClient()
	}
	client, err := chttp.New(hc, c.conn.DSN(), c.conn.Authenticator())
	if err != nil {
		return err
	}
	client.UserAgents = append([]string{"couchdoc/" + Version}, c.userAgents...)
	d, err := newDB(client, c.conn.Database)
	if err != nil {
		return err
	}
	c.transport, c.store = d, d
	c.logger.Debug("connected", "dsn", c.conn.DSN())
	return nil
}

// SetID starts a new logical document. It clears the error state and the
// staged attachments, and resets the staged document to the template.
func (c *Client) SetID(id string) {
	c.failure = nil
	c.results = nil
	c.id = id
	c.doc = c.template.Copy()
	c.attachments = map[string]*Attachment{}
}

// ID returns the id of the current document.
func (c *Client) ID() string {
	return c.id
}

// Rev returns the revision produced by the last successful commit, or "".
func (c *Client) Rev() string {
	return c.doc.Rev()
}

// Set stages a single field.
func (c *Client) Set(field string, value interface{}) {
	c.doc[field] = value
}

// Merge stages every field of doc. _id and _rev are managed by the Client
// and ignored.
func (c *Client) Merge(doc Document) {
	for k, v := range doc {
		if k == fieldID || k == fieldRev {
			continue
		}
		c.doc[k] = v
	}
}

// Document returns a copy of the staged document.
func (c *Client) Document() Document {
	return c.doc.Copy()
}

// Fetch returns the stored representation of the current document, including
// its attachment stubs. It does not touch the staged document or the error
// state.
func (c *Client) Fetch(ctx context.Context) (Document, error) {
	if c.id == "" {
		return nil, missingArg("id")
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c.store.FetchDocument(c.traceContext(ctx), c.id)
}

// AddAttachment stages an attachment, replacing any staged attachment of the
// same name.
func (c *Client) AddAttachment(name, contentType string, src Source) {
	c.attachments[name] = &Attachment{
		Name:        name,
		ContentType: contentType,
		Source:      src,
	}
}

// HadError reports whether the last SetID or Commit failed.
func (c *Client) HadError() bool {
	return c.failure != nil
}

// Err returns the failure recorded by the last Commit, or nil.
func (c *Client) Err() *Failure {
	return c.failure
}

// AttachmentResults returns the per-attachment outcomes of the last Commit.
func (c *Client) AttachmentResults() []AttachmentResult {
	return c.results
}

// Commit synchronizes the staged document with the server, then reconciles
// staged attachments. It returns false on failure, in which case Err
// describes it. A true result does not tell whether anything was written.
func (c *Client) Commit(ctx context.Context) bool {
	c.failure = nil
	c.results = nil
	result := "ok"
	defer func() { c.metrics.commit(result) }()

	if c.id == "" {
		c.failure = &Failure{
			Status:    http.StatusBadRequest,
			ErrorCode: codeBadRequest,
			Reason:    "couchdoc: document id required",
		}
		result = "failed"
		return false
	}
	if err := c.connect(); err != nil {
		c.failure = NewFailure(err)
		result = "failed"
		return false
	}
	s := &synchronizer{
		transport: c.transport,
		reconciler: &reconciler{
			store:  c.store,
			logger: c.logger,
		},
		policy:  c.policy,
		logger:  c.logger,
		metrics: c.metrics,
	}
	res := s.run(c.traceContext(ctx), c.id, c.doc, c.attachments)
	c.results = res.attachments
	if res.attachmentsDone {
		c.attachments = map[string]*Attachment{}
	}
	if res.rev != "" {
		c.id = res.id
		c.doc[fieldID] = res.id
		c.doc[fieldRev] = res.rev
	}
	if res.state == stateFailed {
		c.failure = res.failure
		result = "failed"
		return false
	}
	if res.write == writeNone {
		result = "unchanged"
	}
	return true
}

func (c *Client) traceContext(ctx context.Context) context.Context {
	if !c.logger.Enabled(ctx, slog.LevelDebug) {
		return ctx
	}
	return chttp.WithClientTrace(ctx, &chttp.ClientTrace{
		HTTPResponse: func(r *http.Response) {
			c.logger.Debug("http response", append(requestAttrs(r), "status", r.StatusCode)...)
		},
		HTTPResponseBody: func(r *http.Response, body []byte) {
			if r.StatusCode < http.StatusBadRequest {
				return
			}
			c.logger.Debug("http error body", append(requestAttrs(r), "body", string(body))...)
		},
	})
}

func requestAttrs(r *http.Response) []any {
	if r.Request == nil {
		return []any{"method", "", "url", ""}
	}
	return []any{"method", r.Request.Method, "url", r.Request.URL.Redacted()}
}
