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

package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/streamcontroller/pkg/metrics"
)

var (
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_reconcile_actions_total",
		Help: "Changes applied to the local stores labeled by kind and action.",
	}, []string{"kind", "action"})
	skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_reconcile_skipped_total",
		Help: "Backing-store items that produced no change.",
	}, []string{"kind"})
	conversionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_reconcile_conversion_errors_total",
		Help: "Backing-store items that could not be decoded.",
	}, []string{"kind"})
	inconsistencies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_reconcile_inconsistencies_total",
		Help: "Watch events that did not match the local store.",
	}, []string{"kind"})
	resyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_reconcile_resync_total",
		Help: "Full listings applied labeled by kind and result.",
	}, []string{"kind", "result"})
)

func init() {
	metrics.Registry.MustRegister(actionsTotal, skippedTotal, conversionErrors, inconsistencies, resyncs)
}
