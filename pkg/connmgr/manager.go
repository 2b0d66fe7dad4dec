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

// Package connmgr keeps one connection per live SPU and pushes metadata changes to
// the SPUs they concern. Pushes are best effort: failures are logged and counted,
// and the next resync resends current state.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/notify"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

const (
	defaultPushTimeout = 5 * time.Second
	defaultConcurrency = 16
)

// ErrUnknownSpu is returned by RefreshSpu for an id no SPU carries.
var ErrUnknownSpu = errors.New("unknown spu")

// Notification is published to client watchers for every processed batch.
type Notification struct {
	Spus       []reconcile.SpuChange
	Partitions []reconcile.PartitionChange
}

// Config tunes a Manager.
type Config struct {
	// Dialer opens connections to SPUs without a registered sink. Nil disables dialing:
	// only SPUs that connected to the controller are reachable.
	Dialer      Dialer
	PushTimeout time.Duration
	Concurrency int
	Logger      *zap.Logger
}

// Manager owns the SPU sink pool.
type Manager struct {
	spus        *metadata.SpuStore
	partitions  *metadata.PartitionStore
	sinks       cmap.ConcurrentMap[int32, Sink]
	dials       singleflight.Group
	dialer      Dialer
	clients     *notify.Broadcaster[Notification]
	pushTimeout time.Duration
	concurrency int
	logger      *zap.Logger
}

// New builds a manager over the SPU and partition stores. Notifications go to clients.
func New(spus *metadata.SpuStore, partitions *metadata.PartitionStore, clients *notify.Broadcaster[Notification], cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if clients == nil {
		clients = notify.NewBroadcaster[Notification](notify.DefaultCapacity)
	}
	return &Manager{
		spus:       spus,
		partitions: partitions,
		sinks: cmap.NewWithCustomShardingFunction[int32, Sink](func(id int32) uint32 {
			return uint32(id)
		}),
		dialer:      cfg.Dialer,
		clients:     clients,
		pushTimeout: cfg.PushTimeout,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.Named("conn-manager"),
	}
}

// Notifications returns the broadcaster client watchers subscribe to.
func (m *Manager) Notifications() *notify.Broadcaster[Notification] { return m.clients }

// RegisterSink installs the sink of an SPU that connected to the controller. An
// existing sink is closed first.
func (m *Manager) RegisterSink(id int32, sink Sink) {
	if old, ok := m.sinks.Get(id); ok && old != sink {
		_ = old.Close()
	}
	m.sinks.Set(id, sink)
	sinkGauge.Set(float64(m.sinks.Count()))
	m.logger.Debug("registered sink", zap.Int32("spu", id))
}

// ClearSink closes and drops the sink of an SPU.
func (m *Manager) ClearSink(id int32) {
	if sink, ok := m.sinks.Pop(id); ok {
		_ = sink.Close()
		m.logger.Debug("removed sink", zap.Int32("spu", id))
	}
	sinkGauge.Set(float64(m.sinks.Count()))
}

// ReleaseSink drops sink only if it is still the one registered for id. It reports
// whether it was.
func (m *Manager) ReleaseSink(id int32, sink Sink) bool {
	removed := m.sinks.RemoveCb(id, func(_ int32, current Sink, exists bool) bool {
		return exists && current == sink
	})
	if removed {
		_ = sink.Close()
		sinkGauge.Set(float64(m.sinks.Count()))
	}
	return removed
}

// HasSink reports whether a connection to the SPU is held.
func (m *Manager) HasSink(id int32) bool { return m.sinks.Has(id) }

// ProcessSpuChanges pushes SPU spec changes to every online SPU and notifies clients.
func (m *Manager) ProcessSpuChanges(ctx context.Context, changes []reconcile.SpuChange) {
	for _, change := range changes {
		switch change.Action {
		case reconcile.ActionAdd:
			m.SpuAdded(ctx, change.New.Key, change.New.Spec)
		case reconcile.ActionMod:
			if change.SpecChanged() {
				m.SpuModified(ctx, change.New.Key, change.New.Spec, change.Old.Spec)
			}
		case reconcile.ActionDelete:
			m.SpuRemoved(ctx, change.Old.Key, change.Old.Spec)
		}
	}
	m.notify(Notification{Spus: changes})
}

// ProcessPartitionChanges pushes partition changes to their replicas and notifies clients.
func (m *Manager) ProcessPartitionChanges(ctx context.Context, changes []reconcile.PartitionChange) {
	for _, change := range changes {
		switch change.Action {
		case reconcile.ActionAdd:
			m.PartitionChanged(ctx, change.New.Key, change.New.Spec)
		case reconcile.ActionMod:
			if change.SpecChanged() {
				m.PartitionChanged(ctx, change.New.Key, change.New.Spec)
			}
		case reconcile.ActionDelete:
			m.PartitionRemoved(ctx, change.Old.Key, change.Old.Spec)
		}
	}
	m.notify(Notification{Partitions: changes})
}

// SpuAdded drops any stale connection to the new SPU and tells online SPUs about it.
func (m *Manager) SpuAdded(ctx context.Context, name string, spec metadata.SpuSpec) {
	if m.sinks.Has(spec.ID) {
		m.logger.Warn("unexpected connection found for new spu, clearing", zap.Int32("spu", spec.ID))
		m.ClearSink(spec.ID)
	}
	m.broadcastSpu(ctx, protocol.SpuUpdate{Op: protocol.OpUpdate, Name: name, Spec: spec})
}

// SpuModified reconnects to the updated SPU lazily and tells online SPUs.
func (m *Manager) SpuModified(ctx context.Context, name string, spec, old metadata.SpuSpec) {
	m.logger.Debug("spu modified", zap.Int32("spu", spec.ID), zap.Int32("old", old.ID))
	m.ClearSink(old.ID)
	if old.ID != spec.ID {
		m.ClearSink(spec.ID)
	}
	m.broadcastSpu(ctx, protocol.SpuUpdate{Op: protocol.OpUpdate, Name: name, Spec: spec})
}

// SpuRemoved closes the connection to the SPU and tells online SPUs.
func (m *Manager) SpuRemoved(ctx context.Context, name string, spec metadata.SpuSpec) {
	m.ClearSink(spec.ID)
	m.broadcastSpu(ctx, protocol.SpuUpdate{Op: protocol.OpDelete, Name: name, Spec: spec})
}

// PartitionChanged sends the new assignment to the online SPUs in its replica set.
func (m *Manager) PartitionChanged(ctx context.Context, key metadata.ReplicaKey, spec metadata.PartitionSpec) {
	msg := &protocol.UpdateReplica{Replicas: []protocol.ReplicaUpdate{{Op: protocol.OpUpdate, Replica: protocol.NewReplica(key, spec)}}}
	m.fanOut(ctx, m.onlineReplicas(spec.Replicas), msg)
}

// PartitionRemoved tells the former replicas to drop the partition.
func (m *Manager) PartitionRemoved(ctx context.Context, key metadata.ReplicaKey, spec metadata.PartitionSpec) {
	msg := &protocol.UpdateReplica{Replicas: []protocol.ReplicaUpdate{{Op: protocol.OpDelete, Replica: protocol.NewReplica(key, spec)}}}
	m.fanOut(ctx, m.onlineReplicas(spec.Replicas), msg)
}

// RefreshSpu sends one SPU the full SPU list and every partition it holds.
func (m *Manager) RefreshSpu(ctx context.Context, id int32) error {
	spu, ok := metadata.SpuByID(m.spus, id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSpu, id)
	}
	held := metadata.PartitionsForSpu(m.partitions, id)
	msg := &protocol.UpdateAll{Spus: m.spus.Specs(), Replicas: make([]protocol.Replica, 0, len(held))}
	for _, partition := range held {
		msg.Replicas = append(msg.Replicas, protocol.NewReplica(partition.Key, partition.Spec))
	}
	m.logger.Debug("refreshing spu",
		zap.Int32("spu", id),
		zap.Int("spus", len(msg.Spus)),
		zap.Int("replicas", len(msg.Replicas)))
	return m.send(ctx, spu.Spec, msg)
}

func (m *Manager) broadcastSpu(ctx context.Context, update protocol.SpuUpdate) {
	online := metadata.OnlineSpus(m.spus)
	targets := make([]metadata.SpuSpec, 0, len(online))
	for _, spu := range online {
		targets = append(targets, spu.Spec)
	}
	m.fanOut(ctx, targets, &protocol.UpdateSpu{Spus: []protocol.SpuUpdate{update}})
}

func (m *Manager) onlineReplicas(ids []int32) []metadata.SpuSpec {
	out := make([]metadata.SpuSpec, 0, len(ids))
	for _, id := range ids {
		spu, ok := metadata.SpuByID(m.spus, id)
		if !ok || !spu.Status.IsOnline() {
			m.logger.Debug("skipping offline replica", zap.Int32("spu", id))
			continue
		}
		out = append(out, spu.Spec)
	}
	return out
}

// fanOut sends msg to every target concurrently. Failures never leave this function.
func (m *Manager) fanOut(ctx context.Context, targets []metadata.SpuSpec, msg protocol.Message) {
	if len(targets) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, target := range targets {
		g.Go(func() error {
			if err := m.send(ctx, target, msg); err != nil {
				m.logger.Warn("push to spu failed",
					zap.Int32("spu", target.ID),
					zap.String("message", string(msg.MessageType())),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) send(ctx context.Context, spu metadata.SpuSpec, msg protocol.Message) error {
	msgType := string(msg.MessageType())
	sink, err := m.sink(ctx, spu)
	if err != nil {
		pushTotal.WithLabelValues(msgType, "error").Inc()
		return err
	}
	if sink == nil {
		pushTotal.WithLabelValues(msgType, "skipped").Inc()
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, m.pushTimeout)
	defer cancel()
	if err := sink.Send(sendCtx, msg); err != nil {
		pushTotal.WithLabelValues(msgType, "error").Inc()
		m.ReleaseSink(spu.ID, sink)
		return fmt.Errorf("send %s to spu %d: %w", msgType, spu.ID, err)
	}
	pushTotal.WithLabelValues(msgType, "ok").Inc()
	return nil
}

// sink returns the registered sink or dials one. Concurrent dials to one SPU share a
// single attempt. A nil sink without error means no dialer is configured.
func (m *Manager) sink(ctx context.Context, spu metadata.SpuSpec) (Sink, error) {
	if sink, ok := m.sinks.Get(spu.ID); ok {
		return sink, nil
	}
	if m.dialer == nil {
		return nil, nil
	}
	v, err, _ := m.dials.Do(strconv.Itoa(int(spu.ID)), func() (interface{}, error) {
		if sink, ok := m.sinks.Get(spu.ID); ok {
			return sink, nil
		}
		dialCtx, cancel := context.WithTimeout(ctx, m.pushTimeout)
		defer cancel()
		sink, err := m.dialer.Dial(dialCtx, spu)
		if err != nil {
			return nil, err
		}
		if !m.sinks.SetIfAbsent(spu.ID, sink) {
			_ = sink.Close()
			existing, _ := m.sinks.Get(spu.ID)
			return existing, nil
		}
		sinkGauge.Set(float64(m.sinks.Count()))
		return sink, nil
	})
	if err != nil {
		return nil, err
	}
	sink, _ := v.(Sink)
	return sink, nil
}

func (m *Manager) notify(n Notification) {
	if len(n.Spus) == 0 && len(n.Partitions) == 0 {
		return
	}
	if m.clients.Send(n) == 0 {
		notificationsWithoutReceivers.Inc()
		m.logger.Debug("no client receivers for notification")
	}
}
