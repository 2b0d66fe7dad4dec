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

package operator

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	scv1alpha1 "github.com/novatechflow/streamcontroller/api/v1alpha1"
)

var (
	operatorGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sc_operator_spugroups",
		Help: "Number of SpuGroup resources currently managed.",
	})
	operatorPublishResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sc_operator_spugroup_publish_total",
		Help: "Count of SpuGroup publish attempts labeled by result.",
	}, []string{"result"})
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		operatorGroups,
		operatorPublishResults,
	)
}

func recordGroupCount(ctx context.Context, c client.Client) {
	var groups scv1alpha1.SpuGroupList
	if err := c.List(ctx, &groups); err != nil {
		return
	}
	operatorGroups.Set(float64(len(groups.Items)))
}
