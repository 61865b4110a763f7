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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-kivik/couchdoc/chttp"
)

// Transport executes the document operations the synchronizer needs. Failures
// should carry the server's status, error code and reason, as *chttp.HTTPError
// does, so that they can be classified.
type Transport interface {
	// FindDocument fetches the current revision of the document.
	FindDocument(ctx context.Context, id string) (Document, error)
	// CreateDocument stores a new document, returning its id and revision.
	CreateDocument(ctx context.Context, doc Document) (id, rev string, err error)
	// ReplaceDocument stores doc as the successor of revision rev.
	ReplaceDocument(ctx context.Context, doc Document, id, rev string) (newRev string, err error)
	// CreateDatabase creates the database the transport is bound to.
	CreateDatabase(ctx context.Context) error
}

// ContentStore transfers a document's full representation and attachment
// bodies directly, outside of the Transport.
type ContentStore interface {
	// FetchDocument fetches the full representation of a document, including
	// its _attachments stubs.
	FetchDocument(ctx context.Context, id string) (Document, error)
	// PutAttachment uploads body as the named attachment of revision rev,
	// returning the new document revision.
	PutAttachment(ctx context.Context, id, rev, name, contentType string, body io.Reader) (newRev string, err error)
}

// db binds a chttp.Client to a single database.
type db struct {
	client *chttp.Client
	dbName string
}

var (
	_ Transport    = &db{}
	_ ContentStore = &db{}
)

func newDB(client *chttp.Client, dbName string) (*db, error) {
	if dbName == "" {
		return nil, missingArg("dbName")
	}
	return &db{client: client, dbName: dbName}, nil
}

func (d *db) path(path string, query url.Values) string {
	p := url.PathEscape(d.dbName)
	if path != "" {
		p += "/" + strings.TrimPrefix(path, "/")
	}
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return p
}

func (d *db) get(ctx context.Context, id string, query url.Values) (Document, error) {
	if id == "" {
		return nil, missingArg("docID")
	}
	var doc Document
	err := d.client.DoJSON(ctx, http.MethodGet, d.path(chttp.EncodeDocID(id), query), nil, &doc)
	return doc, err
}

// FindDocument fetches the requested document.
func (d *db) FindDocument(ctx context.Context, id string) (Document, error) {
	return d.get(ctx, id, nil)
}

// FetchDocument fetches the requested document, including attachment stubs
// with their digests.
func (d *db) FetchDocument(ctx context.Context, id string) (Document, error) {
	return d.get(ctx, id, url.Values{"att_encoding_info": {"true"}})
}

type writeResult struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

func (d *db) CreateDocument(ctx context.Context, doc Document) (docID, rev string, err error) {
	var result writeResult
	opts := &chttp.Options{JSON: doc}
	if err := d.client.DoJSON(ctx, http.MethodPost, d.path("", nil), opts, &result); err != nil {
		return "", "", err
	}
	return result.ID, result.Rev, nil
}

func (d *db) ReplaceDocument(ctx context.Context, doc Document, docID, rev string) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if rev == "" {
		return "", missingArg("rev")
	}
	body := doc.Copy()
	body[fieldID] = docID
	body[fieldRev] = rev
	var result writeResult
	opts := &chttp.Options{JSON: body}
	if err := d.client.DoJSON(ctx, http.MethodPut, d.path(chttp.EncodeDocID(docID), nil), opts, &result); err != nil {
		return "", err
	}
	if result.ID != docID {
		// This should never happen; this is mostly for debugging and internal use
		return result.Rev, fmt.Errorf("modified document ID (%s) does not match that requested (%s)", result.ID, docID)
	}
	return result.Rev, nil
}

func (d *db) CreateDatabase(ctx context.Context) error {
	_, err := d.client.DoError(ctx, http.MethodPut, d.path("", nil), nil)
	return err
}

func (d *db) PutAttachment(ctx context.Context, docID, rev, filename, contentType string, body io.Reader) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if filename == "" {
		return "", missingArg("filename")
	}
	if contentType == "" {
		return "", missingArg("contentType")
	}
	opts := &chttp.Options{
		Body:        body,
		ContentType: contentType,
	}
	if rev != "" {
		opts.Query = url.Values{"rev": {rev}}
	}
	var result writeResult
	err := d.client.DoJSON(ctx, http.MethodPut, d.path(chttp.EncodeDocID(docID)+"/"+chttp.EncodeDocID(filename), nil), opts, &result)
	if err != nil {
		return "", errors.Wrapf(err, "put attachment %q", filename)
	}
	return result.Rev, nil
}
