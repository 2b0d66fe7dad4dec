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
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

// ErrInvalidTransition is returned for a report the resolution graph does not allow.
var ErrInvalidTransition = errors.New("invalid partition transition")

// ValidTransition reports whether a partition may move from one resolution to another.
// Reporting the current resolution again is always allowed (progress updates), and
// any partition may drop to Offline.
func ValidTransition(from, to metadata.PartitionResolution) bool {
	if from == to || to == metadata.PartitionOffline {
		return true
	}
	switch from {
	case metadata.PartitionOffline:
		return to == metadata.PartitionOnline
	case metadata.PartitionOnline:
		return to == metadata.PartitionLeaderOffline
	case metadata.PartitionLeaderOffline:
		return to == metadata.PartitionOnline || to == metadata.PartitionElectionLeaderFound
	case metadata.PartitionElectionLeaderFound:
		return to == metadata.PartitionOnline
	}
	return false
}

// PartitionController records replica health reported by the data plane. It never
// elects leaders.
type PartitionController struct {
	partitions *metadata.PartitionStore
	api        *metadata.Typed[metadata.ReplicaKey, metadata.PartitionSpec, metadata.PartitionStatus]
	conns      *connmgr.Manager
	logger     *zap.Logger
}

// NewPartitionController builds a controller writing through client. conns may be nil.
func NewPartitionController(client metadata.Client, partitions *metadata.PartitionStore, conns *connmgr.Manager, logger *zap.Logger) *PartitionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PartitionController{
		partitions: partitions,
		api:        metadata.NewTyped(client, metadata.PartitionDescriptor),
		conns:      conns,
		logger:     logger.Named("partition-controller"),
	}
}

// Report records status for key after checking the transition.
func (c *PartitionController) Report(ctx context.Context, key metadata.ReplicaKey, status metadata.PartitionStatus) error {
	current, ok := c.partitions.Value(key)
	if !ok {
		partitionReports.WithLabelValues("unknown").Inc()
		return &metadata.NotFoundError{Label: metadata.PartitionDescriptor.Label, Key: key.String()}
	}
	if !ValidTransition(current.Status.Resolution, status.Resolution) {
		partitionReports.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, key, current.Status.Resolution, status.Resolution)
	}
	if metadata.Equal(current, metadata.NewObject(key, current.Spec, status)) {
		partitionReports.WithLabelValues("unchanged").Inc()
		return nil
	}
	if err := c.api.UpdateStatus(ctx, key, status); err != nil {
		partitionReports.WithLabelValues("error").Inc()
		return fmt.Errorf("update partition status: %w", err)
	}
	partitionReports.WithLabelValues("ok").Inc()
	if current.Status.Resolution != status.Resolution {
		c.logger.Info("partition resolution",
			zap.Stringer("partition", key),
			zap.String("from", string(current.Status.Resolution)),
			zap.String("to", string(status.Resolution)))
	}
	return nil
}

// OnPartitionChanges is a reconcile.Handler for the partition syncer. Spec changes are
// pushed to the replicas that hold the partition.
func (c *PartitionController) OnPartitionChanges(ctx context.Context, changes []reconcile.PartitionChange) {
	if c.conns != nil {
		c.conns.ProcessPartitionChanges(ctx, changes)
	}
}

// OnSpuChanges is a reconcile.Handler for the SPU syncer. Partitions led by an SPU
// that went offline or disappeared move to LeaderOffline.
func (c *PartitionController) OnSpuChanges(ctx context.Context, changes []reconcile.SpuChange) {
	for _, change := range changes {
		var id int32
		switch {
		case change.Action == reconcile.ActionDelete:
			id = change.Old.Spec.ID
		case change.Action == reconcile.ActionMod && change.Old.Status.IsOnline() && !change.New.Status.IsOnline():
			id = change.New.Spec.ID
		default:
			continue
		}
		c.leaderLost(ctx, id)
	}
}

func (c *PartitionController) leaderLost(ctx context.Context, id int32) {
	led := c.partitions.Filter(func(p metadata.PartitionObject) bool {
		return p.Spec.Leader == id && p.Status.Resolution != metadata.PartitionOffline &&
			p.Status.Resolution != metadata.PartitionLeaderOffline
	})
	for _, p := range led {
		status := p.Status.Clone()
		status.Resolution = metadata.PartitionLeaderOffline
		if err := c.api.UpdateStatus(ctx, p.Key, status); err != nil {
			controllerErrors.WithLabelValues("partition").Inc()
			c.logger.Warn("mark leader offline failed", zap.Stringer("partition", p.Key), zap.Error(err))
			continue
		}
		c.logger.Info("partition leader offline", zap.Stringer("partition", p.Key), zap.Int32("spu", id))
	}
}
