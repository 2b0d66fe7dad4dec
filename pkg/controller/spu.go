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
	"fmt"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

// SpuController records SPU liveness and feeds SPU changes to the connection manager.
type SpuController struct {
	spus   *metadata.SpuStore
	api    *metadata.Typed[string, metadata.SpuSpec, metadata.SpuStatus]
	conns  *connmgr.Manager
	logger *zap.Logger
}

// NewSpuController builds a controller writing through client. conns may be nil.
func NewSpuController(client metadata.Client, spus *metadata.SpuStore, conns *connmgr.Manager, logger *zap.Logger) *SpuController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpuController{
		spus:   spus,
		api:    metadata.NewTyped(client, metadata.SpuDescriptor),
		conns:  conns,
		logger: logger.Named("spu-controller"),
	}
}

// SetOnline marks the SPU carrying id as online.
func (c *SpuController) SetOnline(ctx context.Context, id int32) error {
	return c.setResolution(ctx, id, metadata.SpuOnline)
}

// SetOffline marks the SPU carrying id as offline.
func (c *SpuController) SetOffline(ctx context.Context, id int32) error {
	return c.setResolution(ctx, id, metadata.SpuOffline)
}

func (c *SpuController) setResolution(ctx context.Context, id int32, resolution metadata.SpuResolution) error {
	spu, ok := metadata.SpuByID(c.spus, id)
	if !ok {
		return fmt.Errorf("%w: %d", connmgr.ErrUnknownSpu, id)
	}
	if spu.Status.Resolution == resolution {
		return nil
	}
	if err := c.api.UpdateStatus(ctx, spu.Key, metadata.SpuStatus{Resolution: resolution}); err != nil {
		controllerErrors.WithLabelValues("spu").Inc()
		return fmt.Errorf("update spu status: %w", err)
	}
	spuLiveness.WithLabelValues(string(resolution)).Inc()
	c.logger.Info("spu liveness", zap.String("spu", spu.Key), zap.Int32("id", id), zap.String("resolution", string(resolution)))
	return nil
}

// OnSpuChanges is a reconcile.Handler for the SPU syncer.
func (c *SpuController) OnSpuChanges(ctx context.Context, changes []reconcile.SpuChange) {
	if c.conns != nil {
		c.conns.ProcessSpuChanges(ctx, changes)
	}
}
