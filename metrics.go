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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts synchronization activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	commits     *prometheus.CounterVec
	writes      *prometheus.CounterVec
	attachments *prometheus.CounterVec
	dbCreated   prometheus.Counter
}

// NewMetrics creates the couchdoc collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "couchdoc",
			Name:      "commits_total",
			Help:      "Document commits, by result.",
		}, []string{"result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "couchdoc",
			Name:      "document_writes_total",
			Help:      "Document writes issued, by kind.",
		}, []string{"kind"}),
		attachments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "couchdoc",
			Name:      "attachments_total",
			Help:      "Staged attachments reconciled, by outcome.",
		}, []string{"outcome"}),
		dbCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "couchdoc",
			Name:      "databases_created_total",
			Help:      "Databases created after a lookup reported them missing.",
		}),
	}
	for _, c := range []prometheus.Collector{m.commits, m.writes, m.attachments, m.dbCreated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) commit(result string) {
	if m != nil {
		m.commits.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) write(kind string) {
	if m != nil {
		m.writes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) attachment(outcome AttachmentOutcome) {
	if m != nil {
		m.attachments.WithLabelValues(outcome.String()).Inc()
	}
}

func (m *Metrics) databaseCreated() {
	if m != nil {
		m.dbCreated.Inc()
	}
}
