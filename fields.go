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
	"reflect"
	"strings"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
)

// Model exposes the fields of an application object for staging. Field
// returns nil for fields that are unset.
type Model interface {
	Field(name string) interface{}
}

// MapModel is a Model backed by a map.
type MapModel map[string]interface{}

var _ Model = MapModel(nil)

// Field returns m[name].
func (m MapModel) Field(name string) interface{} {
	return m[name]
}

// ValueFormatter may be implemented by field values that know how to render
// themselves for a given format descriptor. It takes precedence over
// fmt-style formatting in StageValues.
type ValueFormatter interface {
	FormatValue(format string) interface{}
}

// StructModel returns a Model reading the exported fields of the struct s
// (or pointer to struct). Fields are matched by their json tag name, or by
// their Go name when untagged.
func StructModel(s interface{}) Model {
	return structModel{v: reflect.Indirect(reflect.ValueOf(s))}
}

type structModel struct {
	v reflect.Value
}

func (m structModel) Field(name string) interface{} {
	if m.v.Kind() != reflect.Struct {
		return nil
	}
	t := m.v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == "-" {
			continue
		}
		if tag == name || (tag == "" && f.Name == name) {
			return m.v.Field(i).Interface()
		}
	}
	return nil
}

// isNil reports whether v is nil, including typed nil pointers, maps and
// slices held in an interface.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// StageDates copies the configured date fields from m into the staged
// document, formatted with their layouts. Nil fields are skipped.
func (c *Client) StageDates(m Model) error {
	for field, layout := range c.dateFields {
		v := m.Field(field)
		if isNil(v) {
			continue
		}
		formatted, err := formatDate(v, layout)
		if err != nil {
			return &kivik.Error{Status: http.StatusBadRequest, Err: fmt.Errorf("couchdoc: date field %q: %w", field, err)}
		}
		c.doc[field] = formatted
	}
	return nil
}

func formatDate(v interface{}, layout string) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout), nil
	case *time.Time:
		return t.Format(layout), nil
	case interface{ Format(string) string }:
		return t.Format(layout), nil
	}
	return "", fmt.Errorf("unsupported type %T", v)
}

// StageValues copies the configured value fields from m into the staged
// document. Values implementing ValueFormatter render themselves; otherwise
// a non-empty format is applied with fmt.Sprintf, and an empty one stages the
// raw value. Nil fields are skipped.
func (c *Client) StageValues(m Model) {
	for field, format := range c.valueFields {
		v := m.Field(field)
		if isNil(v) {
			continue
		}
		if f, ok := v.(ValueFormatter); ok {
			c.doc[field] = f.FormatValue(format)
			continue
		}
		if format != "" {
			c.doc[field] = fmt.Sprintf(format, v)
			continue
		}
		c.doc[field] = v
	}
}
