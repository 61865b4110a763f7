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
	"bytes"
	"context"
	"crypto/md5" // nolint: gosec
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"sort"
)

// Source provides the bytes of a staged attachment.
type Source interface {
	Open() (io.ReadCloser, error)
}

// FileSource reads attachment content from a local path.
type FileSource string

var _ Source = FileSource("")

// Open opens the file.
func (s FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(s))
}

// BytesSource serves attachment content from memory.
type BytesSource []byte

var _ Source = BytesSource(nil)

// Open returns a reader over the bytes.
func (s BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s)), nil
}

// Attachment is an attachment staged for the next commit.
type Attachment struct {
	Name        string
	ContentType string
	Source      Source
}

// ManifestEntry is an attachment as reported by the server.
type ManifestEntry struct {
	Name   string
	Digest string
}

// digestPrefixLen is the length of the algorithm prefix ("md5-") on server
// reported digests.
const digestPrefixLen = 4

// Manifest extracts the attachment manifest from a document's _attachments
// member, keyed by attachment name.
func Manifest(doc Document) map[string]ManifestEntry {
	manifest := map[string]ManifestEntry{}
	stubs, _ := doc[fieldAttachments].(map[string]interface{})
	for name, stub := range stubs {
		fields, _ := stub.(map[string]interface{})
		digest, _ := fields["digest"].(string)
		manifest[name] = ManifestEntry{Name: name, Digest: digest}
	}
	return manifest
}

// Digest computes the content digest of src, encoded the way CouchDB reports
// it, without the algorithm prefix.
func Digest(src Source) (string, error) {
	r, err := src.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()
	h := md5.New() // nolint: gosec
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func stripDigestPrefix(digest string) string {
	if len(digest) < digestPrefixLen {
		return digest
	}
	return digest[digestPrefixLen:]
}

// AttachmentOutcome is the result of reconciling one staged attachment.
type AttachmentOutcome int

// Attachment outcomes.
const (
	// AttachmentUnchanged means the server already holds identical content.
	AttachmentUnchanged AttachmentOutcome = iota
	// AttachmentUploaded means the content was uploaded.
	AttachmentUploaded
	// AttachmentSkipped means the local source could not be read.
	AttachmentSkipped
	// AttachmentFailed means the upload was attempted and failed.
	AttachmentFailed
)

func (o AttachmentOutcome) String() string {
	switch o {
	case AttachmentUnchanged:
		return "unchanged"
	case AttachmentUploaded:
		return "uploaded"
	case AttachmentSkipped:
		return "skipped"
	case AttachmentFailed:
		return "failed"
	}
	return "unknown"
}

// AttachmentResult reports what happened to one staged attachment during a
// commit.
type AttachmentResult struct {
	Name    string
	Outcome AttachmentOutcome
	Err     error
}

// AttachmentPolicy decides whether attachment failures fail a commit.
type AttachmentPolicy int

const (
	// IgnoreAttachmentErrors logs attachment failures and reports them in the
	// attachment results only. The commit still succeeds.
	IgnoreAttachmentErrors AttachmentPolicy = iota
	// FailOnAttachmentError makes the commit fail when any upload fails.
	FailOnAttachmentError
)

// reconciler compares staged attachments against the server manifest and
// uploads what differs.
type reconciler struct {
	store  ContentStore
	logger *slog.Logger
}

// plan returns the attachments that must be uploaded, and results for the
// ones that need no upload. Attachments are visited in name order.
func (r *reconciler) plan(ctx context.Context, docID string, staged map[string]*Attachment) ([]*Attachment, []AttachmentResult, error) {
	if len(staged) == 0 {
		return nil, nil, nil
	}
	doc, err := r.store.FetchDocument(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	manifest := Manifest(doc)

	names := make([]string, 0, len(staged))
	for name := range staged {
		names = append(names, name)
	}
	sort.Strings(names)

	var upload []*Attachment
	var results []AttachmentResult
	for _, name := range names {
		att := staged[name]
		entry, ok := manifest[name]
		if !ok {
			upload = append(upload, att)
			continue
		}
		digest, err := Digest(att.Source)
		if err != nil {
			r.logger.Warn("attachment source unreadable", "doc", docID, "attachment", name, "error", err)
			results = append(results, AttachmentResult{Name: name, Outcome: AttachmentSkipped, Err: err})
			continue
		}
		if digest != stripDigestPrefix(entry.Digest) {
			upload = append(upload, att)
			continue
		}
		results = append(results, AttachmentResult{Name: name, Outcome: AttachmentUnchanged})
	}
	return upload, results, nil
}

// upload PUTs each attachment, chaining the revision returned by each upload
// into the next. It returns the final revision.
func (r *reconciler) upload(ctx context.Context, docID, rev string, atts []*Attachment) (string, []AttachmentResult) {
	results := make([]AttachmentResult, 0, len(atts))
	for _, att := range atts {
		body, err := att.Source.Open()
		if err != nil {
			r.logger.Warn("attachment source unreadable", "doc", docID, "attachment", att.Name, "error", err)
			results = append(results, AttachmentResult{Name: att.Name, Outcome: AttachmentSkipped, Err: err})
			continue
		}
		newRev, err := r.store.PutAttachment(ctx, docID, rev, att.Name, att.ContentType, body)
		_ = body.Close()
		if err != nil {
			r.logger.Warn("attachment upload failed", "doc", docID, "attachment", att.Name, "rev", rev, "error", err)
			results = append(results, AttachmentResult{Name: att.Name, Outcome: AttachmentFailed, Err: err})
			continue
		}
		r.logger.Debug("attachment uploaded", "doc", docID, "attachment", att.Name, "rev", newRev)
		rev = newRev
		results = append(results, AttachmentResult{Name: att.Name, Outcome: AttachmentUploaded})
	}
	return rev, results
}
