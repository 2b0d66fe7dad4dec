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

package connmgr

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/streamcontroller/pkg/metrics"
)

var (
	pushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_spu_push_total",
		Help: "Messages pushed to SPUs labeled by message type and result.",
	}, []string{"message", "result"})
	sinkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sc_spu_sinks",
		Help: "Number of SPU connections currently held.",
	})
	notificationsWithoutReceivers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sc_client_notifications_dropped_total",
		Help: "Client notifications published while no watcher was subscribed.",
	})
)

func init() {
	metrics.Registry.MustRegister(pushTotal, sinkGauge, notificationsWithoutReceivers)
}
