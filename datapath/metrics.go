// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datapath

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the data-plane metrics. One Metrics instance can be shared by
// several datapaths; the datapath label keeps their series apart. A nil
// *Metrics disables all accounting.
type Metrics struct {
	InputPacketsTotal   *prometheus.CounterVec
	InputBytesTotal     *prometheus.CounterVec
	OutputPacketsTotal  *prometheus.CounterVec
	OutputBytesTotal    *prometheus.CounterVec
	DroppedPacketsTotal *prometheus.CounterVec
	ParseErrorsTotal    *prometheus.CounterVec
	FlowHitsTotal       *prometheus.CounterVec
	FlowMissesTotal     *prometheus.CounterVec
	UpcallsLostTotal    *prometheus.CounterVec
	Flows               *prometheus.GaugeVec
}

// NewMetrics initializes the data-plane metrics and registers them with the
// default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		InputPacketsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_input_pkts_total",
				Help: "Total number of packets received",
			},
			[]string{"datapath", "port"},
		),
		InputBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_input_bytes_total",
				Help: "Total number of bytes received",
			},
			[]string{"datapath", "port"},
		),
		OutputPacketsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_output_pkts_total",
				Help: "Total number of packets sent",
			},
			[]string{"datapath", "port"},
		),
		OutputBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_output_bytes_total",
				Help: "Total number of bytes sent",
			},
			[]string{"datapath", "port"},
		),
		DroppedPacketsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_dropped_pkts_total",
				Help: "Total number of packets dropped on output",
			},
			[]string{"datapath", "port"},
		),
		ParseErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_parse_errors_total",
				Help: "Total number of frames rejected by the key extractor",
			},
			[]string{"datapath", "port"},
		),
		FlowHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_flow_hits_total",
				Help: "Total number of packets matched by an installed flow",
			},
			[]string{"datapath"},
		),
		FlowMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_flow_misses_total",
				Help: "Total number of packets punted for lack of a flow",
			},
			[]string{"datapath"},
		),
		UpcallsLostTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapath_upcalls_lost_total",
				Help: "Total number of upcalls dropped on a full queue",
			},
			[]string{"datapath", "reason"},
		),
		Flows: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "datapath_flows",
				Help: "Number of currently installed flows",
			},
			[]string{"datapath"},
		),
	}
}

func (m *Metrics) IncRx(dp, port string, bytes int) {
	if m == nil {
		return
	}
	m.InputPacketsTotal.WithLabelValues(dp, port).Inc()
	m.InputBytesTotal.WithLabelValues(dp, port).Add(float64(bytes))
}

func (m *Metrics) IncTx(dp, port string, bytes int) {
	if m == nil {
		return
	}
	m.OutputPacketsTotal.WithLabelValues(dp, port).Inc()
	m.OutputBytesTotal.WithLabelValues(dp, port).Add(float64(bytes))
}

func (m *Metrics) IncTxDrop(dp, port string) {
	if m == nil {
		return
	}
	m.DroppedPacketsTotal.WithLabelValues(dp, port).Inc()
}

func (m *Metrics) IncParseError(dp, port string) {
	if m == nil {
		return
	}
	m.ParseErrorsTotal.WithLabelValues(dp, port).Inc()
}

func (m *Metrics) IncHit(dp string) {
	if m == nil {
		return
	}
	m.FlowHitsTotal.WithLabelValues(dp).Inc()
}

func (m *Metrics) IncMiss(dp string) {
	if m == nil {
		return
	}
	m.FlowMissesTotal.WithLabelValues(dp).Inc()
}

func (m *Metrics) IncLost(dp string, reason Reason) {
	if m == nil {
		return
	}
	m.UpcallsLostTotal.WithLabelValues(dp, reason.String()).Inc()
}

func (m *Metrics) SetFlows(dp string, n int) {
	if m == nil {
		return
	}
	m.Flows.WithLabelValues(dp).Set(float64(n))
}
