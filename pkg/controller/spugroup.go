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

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

// ValidateSpuGroup checks a group against the SPUs currently registered. SPUs owned by
// the group itself do not collide with its id range.
func ValidateSpuGroup(group metadata.SpuGroupObject, spus []metadata.SpuObject) metadata.SpuGroupStatus {
	if err := group.Spec.Validate(); err != nil {
		return metadata.SpuGroupStatus{Resolution: metadata.SpuGroupInvalid, Reason: err.Error()}
	}
	for _, spu := range spus {
		if !group.Spec.Contains(spu.Spec.ID) || spu.Ctx.OwnedBy(metadata.KindSpuGroup, group.Key) {
			continue
		}
		return metadata.SpuGroupStatus{
			Resolution: metadata.SpuGroupInvalid,
			Reason:     fmt.Sprintf("spu id %d is already used by '%s'", spu.Spec.ID, spu.Key),
		}
	}
	return metadata.SpuGroupStatus{Resolution: metadata.SpuGroupReserved}
}

// SpuGroupController validates groups and materializes their managed SPUs.
type SpuGroupController struct {
	groups   *metadata.SpuGroupStore
	spus     *metadata.SpuStore
	groupAPI *metadata.Typed[string, metadata.SpuGroupSpec, metadata.SpuGroupStatus]
	spuAPI   *metadata.Typed[string, metadata.SpuSpec, metadata.SpuStatus]
	logger   *zap.Logger
}

// NewSpuGroupController builds a controller writing through client.
func NewSpuGroupController(client metadata.Client, groups *metadata.SpuGroupStore, spus *metadata.SpuStore, logger *zap.Logger) *SpuGroupController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpuGroupController{
		groups:   groups,
		spus:     spus,
		groupAPI: metadata.NewTyped(client, metadata.SpuGroupDescriptor),
		spuAPI:   metadata.NewTyped(client, metadata.SpuDescriptor),
		logger:   logger.Named("spugroup-controller"),
	}
}

// OnSpuGroupChanges is a reconcile.Handler for the group syncer.
func (c *SpuGroupController) OnSpuGroupChanges(ctx context.Context, changes []reconcile.SpuGroupChange) {
	for _, change := range changes {
		var err error
		if change.Action == reconcile.ActionDelete {
			err = c.removeSpus(ctx, change.Old.Key, 0)
		} else {
			err = c.Reconcile(ctx, change.New)
		}
		if err != nil {
			controllerErrors.WithLabelValues("spugroup").Inc()
			c.logger.Warn("spu group reconcile failed", zap.String("group", change.Key()), zap.Error(err))
		}
	}
}

// OnSpuChanges re-evaluates groups that are not reserved yet; an SPU leaving may free
// the id range they asked for.
func (c *SpuGroupController) OnSpuChanges(ctx context.Context, _ []reconcile.SpuChange) {
	for _, group := range c.groups.Values() {
		if group.Status.Resolution == metadata.SpuGroupReserved {
			continue
		}
		if err := c.Reconcile(ctx, group); err != nil {
			controllerErrors.WithLabelValues("spugroup").Inc()
			c.logger.Warn("spu group reconcile failed", zap.String("group", group.Key), zap.Error(err))
		}
	}
}

// Reconcile validates group, records the result and, once reserved, brings the managed
// SPUs in line with the group template.
func (c *SpuGroupController) Reconcile(ctx context.Context, group metadata.SpuGroupObject) error {
	status := ValidateSpuGroup(group, c.spus.Values())
	if status != group.Status {
		if err := c.groupAPI.UpdateStatus(ctx, group.Key, status); err != nil {
			return fmt.Errorf("update group status: %w", err)
		}
		spuGroupResolutions.WithLabelValues(string(status.Resolution)).Inc()
		c.logger.Info("spu group resolution",
			zap.String("group", group.Key),
			zap.String("resolution", string(status.Resolution)),
			zap.String("reason", status.Reason))
	}
	if status.Resolution != metadata.SpuGroupReserved {
		return nil
	}

	spec := group.Spec.WithDefaults()
	var errs []error
	for i := 0; i < int(spec.Replicas); i++ {
		name := metadata.SpuName(group.Key, i)
		want := spec.ManagedSpuSpec(group.Key, i)
		existing, ok := c.spus.Value(name)
		if ok && existing.Ctx.OwnedBy(metadata.KindSpuGroup, group.Key) && cmp.Equal(existing.Spec, want) {
			continue
		}
		obj := metadata.NewObject(name, want, metadata.NewSpuStatus())
		if ok {
			obj.Status = existing.Status
		}
		if err := c.spuAPI.Apply(ctx, obj.WithContext(group.Ctx.Child(metadata.KindSpuGroup, group.Key))); err != nil {
			errs = append(errs, fmt.Errorf("apply spu %s: %w", name, err))
			continue
		}
		c.logger.Debug("managed spu applied", zap.String("spu", name), zap.Int32("id", want.ID))
	}
	errs = append(errs, c.removeSpus(ctx, group.Key, int(spec.Replicas)))
	return errors.Join(errs...)
}

// removeSpus deletes the managed SPUs of group except the first keep. keep 0 removes all.
func (c *SpuGroupController) removeSpus(ctx context.Context, group string, keep int) error {
	kept := make(map[string]struct{}, keep)
	for i := 0; i < keep; i++ {
		kept[metadata.SpuName(group, i)] = struct{}{}
	}
	owned := c.spus.Filter(func(s metadata.SpuObject) bool {
		_, ok := kept[s.Key]
		return !ok && s.Ctx.OwnedBy(metadata.KindSpuGroup, group)
	})
	var errs []error
	for _, spu := range owned {
		if err := c.spuAPI.Delete(ctx, spu.Key); err != nil && !errors.Is(err, metadata.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete spu %s: %w", spu.Key, err))
			continue
		}
		c.logger.Info("managed spu removed", zap.String("group", group), zap.String("spu", spu.Key))
	}
	return errors.Join(errs...)
}
