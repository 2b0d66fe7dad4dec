// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package archive

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/streamcontroller/pkg/metrics"
)

var (
	archiveRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_archive_runs_total",
		Help: "Metadata archive uploads labeled by result.",
	}, []string{"result"})
	archiveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sc_archive_duration_seconds",
		Help:    "Time taken by successful metadata archive uploads.",
		Buckets: prometheus.DefBuckets,
	})
	archiveHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sc_archive_bucket_health",
		Help: "Set to 1 for the current archive bucket health state.",
	}, []string{"state"})
)

func init() {
	metrics.Registry.MustRegister(archiveRuns, archiveDuration, archiveHealth)
}
