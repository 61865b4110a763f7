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
	"crypto/md5" // nolint: gosec
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-kivik/couchdoc/config"
)

type fakeAttachment struct {
	contentType string
	data        []byte
}

type fakeDoc struct {
	rev     string
	body    map[string]interface{}
	deleted bool
	atts    map[string]fakeAttachment
}

// fakeCouch is an in-memory stand-in for a single CouchDB database, enough
// to exercise document and attachment writes.
type fakeCouch struct {
	dbName   string
	dbExists bool
	docs     map[string]*fakeDoc

	// hook, if set, may answer a request before the fake does.
	hook func(w http.ResponseWriter, r *http.Request) bool

	mu       sync.Mutex
	requests []string
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{
		dbName:   "testdb",
		dbExists: true,
		docs:     map[string]*fakeDoc{},
	}
}

func (f *fakeCouch) seed(id, rev string, body map[string]interface{}) *fakeDoc {
	doc := &fakeDoc{rev: rev, body: body, atts: map[string]fakeAttachment{}}
	f.docs[id] = doc
	return doc
}

func (f *fakeCouch) document(id string) *fakeDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

// calls returns the requests matching method and, when non-empty, path
// prefix.
func (f *fakeCouch) calls(method, prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []string
	for _, r := range f.requests {
		if strings.HasPrefix(r, method+" "+prefix) {
			result = append(result, r)
		}
	}
	return result
}

// docWrites counts document creates and replaces, excluding attachment
// uploads.
func (f *fakeCouch) docWrites() int {
	var n int
	for _, r := range f.calls("", "") {
		parts := strings.SplitN(r, " ", 2)
		segments := strings.Split(strings.Trim(strings.SplitN(parts[1], "?", 2)[0], "/"), "/")
		if (parts[0] == http.MethodPost && len(segments) == 1) || (parts[0] == http.MethodPut && len(segments) == 2) {
			n++
		}
	}
	return n
}

func nextRev(rev string) string {
	gen, _ := strconv.Atoi(strings.SplitN(rev, "-", 2)[0])
	return fmt.Sprintf("%d-%x", gen+1, gen+1)
}

func fakeDigest(data []byte) string {
	sum := md5.Sum(data) // nolint: gosec
	return "md5-" + base64.StdEncoding.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func couchError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, map[string]string{"error": code, "reason": reason})
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	if f.hook != nil && f.hook(w, r) {
		return
	}
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if segments[0] != f.dbName {
		couchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	if len(segments) == 1 && r.Method == http.MethodPut {
		if f.dbExists {
			couchError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		f.dbExists = true
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
		return
	}
	if !f.dbExists {
		couchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	switch {
	case len(segments) == 1 && r.Method == http.MethodPost:
		f.create(w, r)
	case len(segments) == 2 && r.Method == http.MethodGet:
		f.get(w, segments[1])
	case len(segments) == 2 && r.Method == http.MethodPut:
		f.replace(w, r, segments[1])
	case len(segments) == 3 && r.Method == http.MethodPut:
		f.putAttachment(w, r, segments[1], segments[2])
	default:
		couchError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (f *fakeCouch) get(w http.ResponseWriter, id string) {
	doc, ok := f.docs[id]
	if !ok {
		couchError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	if doc.deleted {
		couchError(w, http.StatusNotFound, "not_found", "deleted")
		return
	}
	body := map[string]interface{}{}
	for k, v := range doc.body {
		body[k] = v
	}
	body["_id"] = id
	body["_rev"] = doc.rev
	if len(doc.atts) > 0 {
		stubs := map[string]interface{}{}
		for name, att := range doc.atts {
			stubs[name] = map[string]interface{}{
				"content_type": att.contentType,
				"digest":       fakeDigest(att.data),
				"length":       len(att.data),
				"revpos":       1,
				"stub":         true,
			}
		}
		body["_attachments"] = stubs
	}
	w.Header().Set("ETag", strconv.Quote(doc.rev))
	writeJSON(w, http.StatusOK, body)
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	var body map[string]interface{}
	err := json.NewDecoder(r.Body).Decode(&body)
	return body, err
}

func (f *fakeCouch) create(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		couchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	id, _ := body["_id"].(string)
	if id == "" {
		id = fmt.Sprintf("generated-%d", len(f.docs)+1)
	}
	rev := "1-1"
	if existing, ok := f.docs[id]; ok {
		if !existing.deleted {
			couchError(w, http.StatusConflict, "conflict", "Document update conflict.")
			return
		}
		rev = nextRev(existing.rev)
	}
	delete(body, "_id")
	delete(body, "_rev")
	f.docs[id] = &fakeDoc{rev: rev, body: body, atts: map[string]fakeAttachment{}}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": id, "rev": rev})
}

func (f *fakeCouch) replace(w http.ResponseWriter, r *http.Request, id string) {
	body, err := decodeBody(r)
	if err != nil {
		couchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	doc, ok := f.docs[id]
	if !ok || doc.deleted {
		couchError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	if rev, _ := body["_rev"].(string); rev != doc.rev {
		couchError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}
	atts := map[string]fakeAttachment{}
	stubs, _ := body["_attachments"].(map[string]interface{})
	for name := range stubs {
		if att, ok := doc.atts[name]; ok {
			atts[name] = att
		}
	}
	delete(body, "_id")
	delete(body, "_rev")
	delete(body, "_attachments")
	doc.rev = nextRev(doc.rev)
	doc.body = body
	doc.atts = atts
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": id, "rev": doc.rev})
}

func (f *fakeCouch) putAttachment(w http.ResponseWriter, r *http.Request, id, name string) {
	doc, ok := f.docs[id]
	if !ok || doc.deleted {
		couchError(w, http.StatusNotFound, "not_found", "missing")
		return
	}
	if rev := r.URL.Query().Get("rev"); rev != doc.rev {
		couchError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		couchError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	doc.atts[name] = fakeAttachment{contentType: r.Header.Get("Content-Type"), data: data}
	doc.rev = nextRev(doc.rev)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": id, "rev": doc.rev})
}

// serverConnection returns a connection to the test server s.
func serverConnection(t *testing.T, s *httptest.Server) config.Connection {
	t.Helper()
	u, err := url.Parse(s.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return config.Connection{Host: host, Port: p, Database: "testdb"}
}

// newFakeClient starts a fake CouchDB and returns a client bound to it.
func newFakeClient(t *testing.T, f *fakeCouch, opts ...Option) *Client {
	t.Helper()
	s := httptest.NewServer(f)
	t.Cleanup(s.Close)
	c, err := New(serverConnection(t, s), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
