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
	"net/http"
	"testing"
	"time"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/couchdoc/config"
)

type person struct {
	Name     string     `json:"name"`
	Born     time.Time  `json:"born"`
	Died     *time.Time `json:"died,omitempty"`
	Height   float64
	Nickname *string `json:"nick"`
	Secret   string  `json:"-"`
	internal string
}

type shout string

func (s shout) FormatValue(format string) interface{} {
	return format + string(s) + "!"
}

func stagingClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTransport(&memTransport{}, &memStore{})}, opts...)
	c, err := New(config.Connection{}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	c.SetID("foo")
	return c
}

func TestStructModel(t *testing.T) {
	nick := "bobby"
	p := &person{Name: "Bob", Height: 1.8, Nickname: &nick, Secret: "x", internal: "y"}
	m := StructModel(p)
	tests := []struct {
		field    string
		expected interface{}
	}{
		{field: "name", expected: "Bob"},
		{field: "Height", expected: 1.8},
		{field: "Secret", expected: nil},
		{field: "internal", expected: nil},
		{field: "unknown", expected: nil},
	}
	for _, test := range tests {
		t.Run(test.field, func(t *testing.T) {
			if d := testy.DiffInterface(test.expected, m.Field(test.field)); d != nil {
				t.Error(d)
			}
		})
	}
	if v, _ := m.Field("nick").(*string); v != &nick {
		t.Errorf("Expected the nick pointer, got %v", v)
	}
	if v := StructModel("not a struct").Field("name"); v != nil {
		t.Errorf("Expected nil for non-struct, got %v", v)
	}
}

func TestStageDates(t *testing.T) {
	born := time.Date(1990, 5, 17, 8, 30, 0, 0, time.UTC)
	died := time.Date(2070, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		fields   map[string]string
		model    Model
		expected Document
		status   int
		err      string
	}{
		{
			name:     "time value",
			fields:   map[string]string{"born": "2006-01-02"},
			model:    StructModel(person{Born: born}),
			expected: Document{"born": "1990-05-17"},
		},
		{
			name:     "time pointer",
			fields:   map[string]string{"died": time.RFC3339},
			model:    StructModel(person{Died: &died}),
			expected: Document{"died": "2070-01-01T00:00:00Z"},
		},
		{
			name:     "nil pointer skipped",
			fields:   map[string]string{"died": time.RFC3339},
			model:    StructModel(person{}),
			expected: Document{},
		},
		{
			name:     "missing map field skipped",
			fields:   map[string]string{"born": time.RFC3339},
			model:    MapModel{},
			expected: Document{},
		},
		{
			name:   "unsupported type",
			fields: map[string]string{"born": time.RFC3339},
			model:  MapModel{"born": 1990},
			status: http.StatusBadRequest,
			err:    `couchdoc: date field "born": unsupported type int`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := stagingClient(t, WithDateFields(test.fields))
			err := c.StageDates(test.model)
			testy.StatusError(t, test.err, test.status, err)
			if d := testy.DiffInterface(test.expected, c.Document()); d != nil {
				t.Error(d)
			}
		})
	}
}

func TestStageValues(t *testing.T) {
	nick := "bobby"
	tests := []struct {
		name     string
		fields   map[string]string
		model    Model
		expected Document
	}{
		{
			name:     "raw value",
			fields:   map[string]string{"name": ""},
			model:    StructModel(person{Name: "Bob"}),
			expected: Document{"name": "Bob"},
		},
		{
			name:     "formatted",
			fields:   map[string]string{"Height": "%.2f m"},
			model:    StructModel(person{Height: 1.8}),
			expected: Document{"Height": "1.80 m"},
		},
		{
			name:     "pointer formatted",
			fields:   map[string]string{"nick": "%s"},
			model:    StructModel(person{}),
			expected: Document{},
		},
		{
			name:     "pointer raw",
			fields:   map[string]string{"nick": ""},
			model:    StructModel(person{Nickname: &nick}),
			expected: Document{"nick": "bobby"},
		},
		{
			name:     "value formatter",
			fields:   map[string]string{"greeting": "hey "},
			model:    MapModel{"greeting": shout("you")},
			expected: Document{"greeting": "hey you!"},
		},
		{
			name:     "nil map value skipped",
			fields:   map[string]string{"x": ""},
			model:    MapModel{"x": nil},
			expected: Document{},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := stagingClient(t, WithValueFields(test.fields))
			c.StageValues(test.model)
			if d := testy.DiffInterface(test.expected, c.Document()); d != nil {
				t.Error(d)
			}
		})
	}
}

func TestStagingOverwritesTemplate(t *testing.T) {
	c := stagingClient(t,
		WithTemplate(Document{"type": "person", "name": "unknown"}),
		WithValueFields(map[string]string{"name": ""}),
	)
	c.StageValues(MapModel{"name": "Bob"})
	expected := Document{"type": "person", "name": "Bob"}
	if d := testy.DiffInterface(expected, c.Document()); d != nil {
		t.Error(d)
	}
}
