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
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}

	f := newFakeCouch()
	f.dbExists = false
	c := newFakeClient(t, f, WithMetrics(m))
	c.SetID("a")
	c.Set("name", "Alice")
	c.AddAttachment("a.txt", "text/plain", BytesSource("a"))
	commit(t, c)
	commit(t, c)
	c.Set("name", "Bob")
	commit(t, c)

	f.hook = func(w http.ResponseWriter, _ *http.Request) bool {
		couchError(w, http.StatusInternalServerError, "server_error", "internal")
		return true
	}
	if c.Commit(context.Background()) {
		t.Fatal("Commit should fail")
	}

	tests := []struct {
		name      string
		collector prometheus.Collector
		expected  float64
	}{
		{name: "ok commits", collector: m.commits.WithLabelValues("ok"), expected: 2},
		{name: "unchanged commits", collector: m.commits.WithLabelValues("unchanged"), expected: 1},
		{name: "failed commits", collector: m.commits.WithLabelValues("failed"), expected: 1},
		{name: "creates", collector: m.writes.WithLabelValues(writeCreate), expected: 1},
		{name: "replaces", collector: m.writes.WithLabelValues(writeReplace), expected: 1},
		{name: "uploads", collector: m.attachments.WithLabelValues("uploaded"), expected: 1},
		{name: "databases", collector: m.dbCreated, expected: 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if v := testutil.ToFloat64(test.collector); v != test.expected {
				t.Errorf("Expected %v, got %v", test.expected, v)
			}
		})
	}
}

func TestMetricsDatabaseCreatedElsewhere(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	f := newFakeCouch()
	var looked bool
	f.hook = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method != http.MethodGet || looked {
			return false
		}
		looked = true
		couchError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return true
	}
	c := newFakeClient(t, f, WithMetrics(m))
	c.SetID("a")
	c.Set("name", "Alice")
	commit(t, c)

	if n := len(f.calls(http.MethodPut, "/testdb")); n != 1 {
		t.Errorf("Expected one database creation attempt, got %d", n)
	}
	if v := testutil.ToFloat64(m.dbCreated); v != 0 {
		t.Errorf("An existing database should not be counted, got %v", v)
	}
	if v := testutil.ToFloat64(m.writes.WithLabelValues(writeCreate)); v != 1 {
		t.Errorf("Expected one create, got %v", v)
	}
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Error("Expected a registration error")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.commit("ok")
	m.write(writeCreate)
	m.attachment(AttachmentUploaded)
	m.databaseCreated()
}
