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

package scapi

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/notify"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

type received struct {
	n   connmgr.Notification
	err error
}

// WatchMetadata sends the full SPU and replica snapshot, then every change the
// connection manager publishes. The snapshot is resent on every resync tick and right
// after the subscription lagged. It returns when ctx is done or send fails.
func (s *Service) WatchMetadata(ctx context.Context, req WatchMetadataRequest, send func(*MetadataUpdate) error) error {
	period := time.Duration(req.ResyncPeriodMs) * time.Millisecond
	if period <= 0 {
		period = time.Duration(DefaultResyncPeriodMs) * time.Millisecond
	}
	sub := s.notifications.Subscribe()
	defer sub.Close()
	watchers.Inc()
	defer watchers.Dec()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan received)
	go func() {
		for {
			n, err := sub.Recv(watchCtx)
			select {
			case events <- received{n: n, err: err}:
			case <-watchCtx.Done():
				return
			}
			var lagged *notify.LaggedError
			if err != nil && !errors.As(err, &lagged) {
				return
			}
		}
	}()

	if err := send(s.updateAll()); err != nil {
		return err
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logger.Debug("metadata resync")
			if err := send(s.updateAll()); err != nil {
				return err
			}
		case ev := <-events:
			var lagged *notify.LaggedError
			switch {
			case errors.As(ev.err, &lagged):
				watchLags.Inc()
				s.logger.Warn("metadata watcher lagged, resyncing", zap.Uint64("missed", lagged.Missed))
				if err := send(s.updateAll()); err != nil {
					return err
				}
			case errors.Is(ev.err, notify.ErrClosed):
				return nil
			case ev.err != nil:
				if ctx.Err() != nil {
					return nil
				}
				return ev.err
			default:
				for _, update := range deltas(ev.n) {
					if err := send(update); err != nil {
						return err
					}
				}
			}
		}
	}
}

func (s *Service) updateAll() *MetadataUpdate {
	partitions := s.stores.Partitions.Values()
	all := &protocol.UpdateAll{Spus: s.stores.Spus.Specs(), Replicas: make([]protocol.Replica, 0, len(partitions))}
	for _, p := range partitions {
		all.Replicas = append(all.Replicas, protocol.NewReplica(p.Key, p.Spec))
	}
	return &MetadataUpdate{All: all}
}

// deltas turns one notification into client updates. Status-only changes are dropped:
// watchers only see specs and leader assignments.
func deltas(n connmgr.Notification) []*MetadataUpdate {
	var out []*MetadataUpdate
	var spus []protocol.SpuUpdate
	for _, c := range n.Spus {
		if !c.SpecChanged() {
			continue
		}
		obj := c.Object()
		spus = append(spus, protocol.SpuUpdate{Op: opOf(c.Action), Name: obj.Key, Spec: obj.Spec})
	}
	if len(spus) > 0 {
		out = append(out, &MetadataUpdate{Spus: &protocol.UpdateSpu{Spus: spus}})
	}
	var replicas []protocol.ReplicaUpdate
	for _, c := range n.Partitions {
		if !c.SpecChanged() {
			continue
		}
		obj := c.Object()
		replicas = append(replicas, protocol.ReplicaUpdate{Op: opOf(c.Action), Replica: protocol.NewReplica(obj.Key, obj.Spec)})
	}
	if len(replicas) > 0 {
		out = append(out, &MetadataUpdate{Replicas: &protocol.UpdateReplica{Replicas: replicas}})
	}
	return out
}

func opOf(a reconcile.Action) protocol.Op {
	if a == reconcile.ActionDelete {
		return protocol.OpDelete
	}
	return protocol.OpUpdate
}
