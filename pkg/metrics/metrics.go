// Copyright (c) 2024 The spserver Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the runtime statistics of a server as a prometheus collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spserver"

// Stats holds the counters updated by the server, it implements prometheus.Collector.
type Stats struct {
	ActiveConnections prometheus.Gauge
	Accepted          prometheus.Counter
	Refused           *prometheus.CounterVec
	Closed            prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessagesSent      prometheus.Counter
	TasksExecuted     *prometheus.CounterVec
	TaskPanics        *prometheus.CounterVec
}

// NewStats creates a Stats whose metrics carry the given constant labels.
func NewStats(constLabels prometheus.Labels) *Stats {
	return &Stats{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "active_connections",
			Help:        "Number of admitted connections not yet released.",
			ConstLabels: constLabels,
		}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_accepted_total",
			Help:        "Connections admitted to the handler pipeline.",
			ConstLabels: constLabels,
		}),
		Refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_refused_total",
			Help:        "Connections refused by admission control.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		Closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_closed_total",
			Help:        "Sessions released after teardown.",
			ConstLabels: constLabels,
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_received_total",
			Help:        "Decoded messages handed to handlers.",
			ConstLabels: constLabels,
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "messages_sent_total",
			Help:        "Replies written to the network.",
			ConstLabels: constLabels,
		}),
		TasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "tasks_executed_total",
			Help:        "Tasks run by an executor.",
			ConstLabels: constLabels,
		}, []string{"executor"}),
		TaskPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "task_panics_total",
			Help:        "Tasks that panicked and were recovered by an executor.",
			ConstLabels: constLabels,
		}, []string{"executor"}),
	}
}

func (s *Stats) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.ActiveConnections,
		s.Accepted,
		s.Refused,
		s.Closed,
		s.MessagesReceived,
		s.MessagesSent,
		s.TasksExecuted,
		s.TaskPanics,
	}
}

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range s.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	for _, c := range s.collectors() {
		c.Collect(ch)
	}
}
