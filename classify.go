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
	"fmt"
	"net/http"

	kivik "github.com/go-kivik/kivik/v4"
	"github.com/pkg/errors"

	"github.com/go-kivik/couchdoc/chttp"
)

// Operation names a remote operation whose failure is being classified.
type Operation int

// The remote operations performed while synchronizing a document.
const (
	OpFindDocument Operation = iota
	OpCreateDocument
	OpReplaceDocument
	OpCreateDatabase
	OpFetchAttachments
	OpPutAttachment
)

var operationNames = map[Operation]string{
	OpFindDocument:     "findDocument",
	OpCreateDocument:   "createDocument",
	OpReplaceDocument:  "replaceDocument",
	OpCreateDatabase:   "createDatabase",
	OpFetchAttachments: "fetchAttachments",
	OpPutAttachment:    "putAttachment",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// isLookup reports whether o reads a single document by id.
func (o Operation) isLookup() bool {
	return o == OpFindDocument || o == OpFetchAttachments
}

// Classification is the outcome of classifying a failed remote operation.
type Classification int

// Failure classifications, in the order the rules are applied.
const (
	NoFailure Classification = iota
	DatabaseMissing
	DocumentMissing
	DocumentDeleted
	GenericFailure
)

func (c Classification) String() string {
	switch c {
	case NoFailure:
		return "NoFailure"
	case DatabaseMissing:
		return "DatabaseMissing"
	case DocumentMissing:
		return "DocumentMissing"
	case DocumentDeleted:
		return "DocumentDeleted"
	case GenericFailure:
		return "GenericFailure"
	}
	return fmt.Sprintf("Classification(%d)", int(c))
}

// Absent reports whether c means the document does not currently exist.
func (c Classification) Absent() bool {
	return c == DocumentMissing || c == DocumentDeleted
}

// CouchDB error codes and reasons consulted by Classify.
const (
	codeNotFound         = "not_found"
	reasonNoDatabase     = "Database does not exist."
	reasonNoDatabaseFile = "no_db_file"
	reasonMissing        = "missing"
	reasonDeleted        = "deleted"

	// codeTransport is reported for failures that never produced a server
	// response, such as network errors.
	codeTransport = "transport_error"
	// codeBadRequest is reported for arguments rejected before any request
	// was sent.
	codeBadRequest = "bad_request"
)

// Failure is the structured payload of a failed remote operation.
type Failure struct {
	Status    int    `json:"status"`
	ErrorCode string `json:"error"`
	Reason    string `json:"reason"`

	err error
}

var _ error = &Failure{}

func (f *Failure) Error() string {
	return fmt.Sprintf("%d %s: %s", f.Status, f.ErrorCode, f.Reason)
}

// Unwrap returns the underlying transport error, if any.
func (f *Failure) Unwrap() error {
	return f.err
}

// StatusCode returns the HTTP status of the failure.
func (f *Failure) StatusCode() int {
	return f.Status
}

// NewFailure converts err into a *Failure. A nil error yields nil.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var httpErr *chttp.HTTPError
	if errors.As(err, &httpErr) {
		return &Failure{
			Status:    httpErr.Code,
			ErrorCode: httpErr.ErrorCode,
			Reason:    httpErr.Reason,
			err:       err,
		}
	}
	status := kivik.HTTPStatus(err)
	var coder interface{ StatusCode() int }
	if status == http.StatusInternalServerError && errors.As(err, &coder) {
		status = coder.StatusCode()
	}
	code := codeTransport
	if status == http.StatusBadRequest {
		code = codeBadRequest
	}
	return &Failure{
		Status:    status,
		ErrorCode: code,
		Reason:    err.Error(),
		err:       err,
	}
}

// Classify maps the failure of op to a Classification. The first matching
// rule wins:
//
//  1. not_found with reason "Database does not exist." or "no_db_file" is DatabaseMissing
//  2. a document lookup failing with not_found/missing is DocumentMissing
//  3. a document lookup failing with not_found/deleted is DocumentDeleted
//  4. anything else is GenericFailure
//
// The returned *Failure carries the unmodified payload, and is nil when err
// is nil.
func Classify(op Operation, err error) (Classification, *Failure) {
	f := NewFailure(err)
	if f == nil {
		return NoFailure, nil
	}
	if f.ErrorCode == codeNotFound {
		switch {
		case f.Reason == reasonNoDatabase || f.Reason == reasonNoDatabaseFile:
			return DatabaseMissing, f
		case op.isLookup() && f.Reason == reasonMissing:
			return DocumentMissing, f
		case op.isLookup() && f.Reason == reasonDeleted:
			return DocumentDeleted, f
		}
	}
	return GenericFailure, f
}
