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
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"
)

// Kind is the JSON type of a Value.
type Kind int

// The JSON kinds.
const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a tagged JSON value. The zero value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	a    []Value
	o    map[string]Value
}

// ValueOf converts i to a Value. Arbitrary Go types are normalized through
// their JSON encoding, so a struct and the equivalent map produce equal
// Values, and all numbers become float64.
func ValueOf(i interface{}) (Value, error) {
	switch t := i.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return Value{kind: Bool, b: t}, nil
	case float64:
		return Value{kind: Number, n: t}, nil
	case string:
		return Value{kind: String, s: t}, nil
	case []interface{}:
		a := make([]Value, len(t))
		for idx, elem := range t {
			v, err := ValueOf(elem)
			if err != nil {
				return Value{}, err
			}
			a[idx] = v
		}
		return Value{kind: Array, a: a}, nil
	case map[string]interface{}:
		o := make(map[string]Value, len(t))
		for k, elem := range t {
			v, err := ValueOf(elem)
			if err != nil {
				return Value{}, err
			}
			o[k] = v
		}
		return Value{kind: Object, o: o}, nil
	case Document:
		return ValueOf(map[string]interface{}(t))
	case Value:
		return t, nil
	}
	data, err := json.Marshal(i)
	if err != nil {
		return Value{}, &kivik.Error{Status: http.StatusBadRequest, Err: err}
	}
	var x interface{}
	if err := json.Unmarshal(data, &x); err != nil {
		return Value{}, &kivik.Error{Status: http.StatusBadRequest, Err: err}
	}
	return ValueOf(x)
}

// Kind returns the kind of v.
func (v Value) Kind() Kind {
	return v.kind
}

// Interface returns v as the generic Go representation produced by
// encoding/json.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case Array:
		a := make([]interface{}, len(v.a))
		for i, elem := range v.a {
			a[i] = elem.Interface()
		}
		return a
	case Object:
		o := make(map[string]interface{}, len(v.o))
		for k, elem := range v.o {
			o[k] = elem.Interface()
		}
		return o
	}
	return nil
}

// Get returns the member key of an object, and whether it was present.
func (v Value) Get(key string) (Value, bool) {
	elem, ok := v.o[key]
	return elem, ok
}

// MarshalJSON satisfies the json.Marshaler interface.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(data)
}

// Equal reports whether v and o are deeply equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == o.b
	case Number:
		return v.n == o.n
	case String:
		return v.s == o.s
	case Array:
		if len(v.a) != len(o.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(o.a[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.o) != len(o.o) {
			return false
		}
		for k, elem := range v.o {
			other, ok := o.o[k]
			if !ok || !elem.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Change describes one difference between two Values.
type Change struct {
	// Path addresses the changed member, with segments separated by '/'.
	// The root is the empty string.
	Path string
	Old  Value
	New  Value
	// Added and Removed are set when the member exists on only one side.
	Added   bool
	Removed bool
}

func (c Change) String() string {
	switch {
	case c.Added:
		return fmt.Sprintf("+%s: %s", c.Path, c.New)
	case c.Removed:
		return fmt.Sprintf("-%s: %s", c.Path, c.Old)
	}
	return fmt.Sprintf("~%s: %s -> %s", c.Path, c.Old, c.New)
}

// Diff returns the changes required to turn from into to, ordered by path.
// Objects are compared member by member and arrays element by element; any
// other mismatch is reported as a single change at the containing path.
func Diff(from, to Value) []Change {
	var changes []Change
	diffValues("", from, to, &changes)
	return changes
}

func diffValues(path string, from, to Value, changes *[]Change) {
	switch {
	case from.kind == Object && to.kind == Object:
		keys := make([]string, 0, len(from.o)+len(to.o))
		for k := range from.o {
			keys = append(keys, k)
		}
		for k := range to.o {
			if _, ok := from.o[k]; !ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := path + "/" + escapePathSegment(k)
			o, inOld := from.o[k]
			n, inNew := to.o[k]
			switch {
			case !inOld:
				*changes = append(*changes, Change{Path: p, New: n, Added: true})
			case !inNew:
				*changes = append(*changes, Change{Path: p, Old: o, Removed: true})
			default:
				diffValues(p, o, n, changes)
			}
		}
	case from.kind == Array && to.kind == Array:
		for i := 0; i < len(from.a) || i < len(to.a); i++ {
			p := path + "/" + strconv.Itoa(i)
			switch {
			case i >= len(from.a):
				*changes = append(*changes, Change{Path: p, New: to.a[i], Added: true})
			case i >= len(to.a):
				*changes = append(*changes, Change{Path: p, Old: from.a[i], Removed: true})
			default:
				diffValues(p, from.a[i], to.a[i], changes)
			}
		}
	case !from.Equal(to):
		*changes = append(*changes, Change{Path: path, Old: from, New: to})
	}
}

func escapePathSegment(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}
