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

package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/streamcontroller/pkg/metrics"
)

var (
	topicTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_topic_transitions_total",
		Help: "Topic resolution changes written, labeled by source and target resolution.",
	}, []string{"from", "to"})
	partitionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sc_partitions_created_total",
		Help: "Partitions materialized for provisioned topics.",
	})
	partitionReports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_partition_reports_total",
		Help: "Replica status reports labeled by result.",
	}, []string{"result"})
	spuLiveness = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_spu_liveness_changes_total",
		Help: "SPU liveness changes recorded, labeled by resolution.",
	}, []string{"resolution"})
	spuGroupResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_spugroup_resolutions_total",
		Help: "SPU group validations labeled by resulting resolution.",
	}, []string{"resolution"})
	controllerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_controller_errors_total",
		Help: "Failed controller writes, labeled by controller.",
	}, []string{"controller"})
)

func init() {
	metrics.Registry.MustRegister(
		topicTransitions,
		partitionsCreated,
		partitionReports,
		spuLiveness,
		spuGroupResolutions,
		controllerErrors,
	)
}
