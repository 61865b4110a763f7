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
	"encoding/json"
	"net/http"

	kivik "github.com/go-kivik/kivik/v4"
)

// Reserved document members.
const (
	fieldID          = "_id"
	fieldRev         = "_rev"
	fieldAttachments = "_attachments"
	fieldDeleted     = "_deleted"
)

// Document is a staged or fetched CouchDB document.
type Document map[string]interface{}

// ID returns the document's _id, or "" if unset.
func (d Document) ID() string {
	id, _ := d[fieldID].(string)
	return id
}

// Rev returns the document's _rev, or "" if unset.
func (d Document) Rev() string {
	rev, _ := d[fieldRev].(string)
	return rev
}

// Copy returns a deep copy of d.
func (d Document) Copy() Document {
	if d == nil {
		return Document{}
	}
	v, err := ValueOf(map[string]interface{}(d))
	if err != nil {
		// Not JSON-representable; a shallow copy is the best we can do.
		c := make(Document, len(d))
		for k, val := range d {
			c[k] = val
		}
		return c
	}
	return Document(v.Interface().(map[string]interface{}))
}

// normalize returns d as it would be read back from the server: all values
// reduced to their JSON representation.
func normalize(d Document) (Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, &kivik.Error{Status: http.StatusBadRequest, Err: err}
	}
	var x Document
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, &kivik.Error{Status: http.StatusBadRequest, Err: err}
	}
	if x == nil {
		x = Document{}
	}
	return x, nil
}
