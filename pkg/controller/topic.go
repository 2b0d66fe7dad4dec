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
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/placement"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

const defaultTopicInterval = 10 * time.Second

// TopicNext is the outcome of evaluating one topic.
type TopicNext struct {
	Status metadata.TopicStatus
	// Partitions are the children that must be created. Existing ones never appear.
	Partitions []metadata.PartitionObject
}

// NextState evaluates one step of the topic state machine against a snapshot of the
// SPUs and of the partitions already present for the topic. start is handed to the
// placement engine (placement.RandomStart in production).
func NextState(topic metadata.TopicObject, spus []metadata.SpuObject, partitions []metadata.PartitionObject, start int) TopicNext {
	status := topic.Status
	switch status.Resolution {
	case metadata.TopicInit, metadata.TopicInvalidConfig, "":
		if err := validateTopic(topic.Spec, partitions); err != nil {
			return TopicNext{Status: invalidTopic(status, err)}
		}
		return TopicNext{Status: metadata.TopicStatus{Resolution: metadata.TopicPending, ReplicaMap: status.ReplicaMap.Clone()}}

	case metadata.TopicPending, metadata.TopicInsufficientResources:
		if status.Resolution == metadata.TopicInsufficientResources && len(status.ReplicaMap) > 0 {
			if reason, short := shortfall(topic.Spec, status.ReplicaMap, spus); short {
				return TopicNext{Status: insufficientTopic(status, reason)}
			}
		}
		var next metadata.TopicStatus
		if topic.Spec.IsComputed() {
			next = computeReplicaMap(topic.Spec, spus, start)
		} else {
			next = assignReplicaMap(topic.Spec, spus)
		}
		if next.Resolution != metadata.TopicProvisioned {
			if next.ReplicaMap == nil {
				next.ReplicaMap = status.ReplicaMap.Clone()
			}
			return TopicNext{Status: next}
		}
		next.ReplicaMap = adoptExisting(next.ReplicaMap, partitions)
		topic.Status = next
		return TopicNext{Status: next, Partitions: missingPartitions(topic, partitions)}

	default:
		if degraded, ok := degrade(topic, spus); ok {
			return TopicNext{Status: degraded}
		}
		return TopicNext{Status: status.Clone(), Partitions: missingPartitions(topic, partitions)}
	}
}

func validateTopic(spec metadata.TopicSpec, partitions []metadata.PartitionObject) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	wanted := make(map[int32]struct{})
	if spec.IsComputed() {
		for i := int32(0); i < spec.Computed.Partitions; i++ {
			wanted[i] = struct{}{}
		}
	} else {
		for _, pm := range spec.Assigned {
			wanted[pm.ID] = struct{}{}
		}
	}
	for _, p := range partitions {
		if _, ok := wanted[p.Key.Partition]; !ok {
			return metadata.ConfigErrorf("partition %d exists and cannot be removed", p.Key.Partition)
		}
	}
	return nil
}

func invalidTopic(prev metadata.TopicStatus, err error) metadata.TopicStatus {
	return metadata.TopicStatus{
		Resolution: metadata.TopicInvalidConfig,
		ReplicaMap: prev.ReplicaMap.Clone(),
		Reason:     err.Error(),
	}
}

func computeReplicaMap(spec metadata.TopicSpec, spus []metadata.SpuObject, start int) metadata.TopicStatus {
	params := spec.Computed
	online := placement.Candidates(spus, true)
	if short := params.ReplicationFactor - int32(len(online)); short > 0 {
		return metadata.TopicStatus{
			Resolution: metadata.TopicInsufficientResources,
			Reason:     (&placement.InsufficientResourcesError{Need: int(short)}).Error(),
		}
	}
	replicaMap, err := placement.Generate(online, placement.Params{
		Partitions:        params.Partitions,
		ReplicationFactor: params.ReplicationFactor,
		IgnoreRack:        params.IgnoreRackAssignment,
		Start:             start,
	})
	if err != nil {
		return metadata.TopicStatus{Resolution: metadata.TopicInsufficientResources, Reason: err.Error()}
	}
	return metadata.TopicStatus{Resolution: metadata.TopicProvisioned, ReplicaMap: replicaMap}
}

func assignReplicaMap(spec metadata.TopicSpec, spus []metadata.SpuObject) metadata.TopicStatus {
	if err := placement.ValidateAssigned(spec.Assigned, spuIDs(spus)); err != nil {
		return metadata.TopicStatus{Resolution: metadata.TopicInvalidConfig, Reason: err.Error()}
	}
	replicaMap := metadata.ToReplicaMap(spec.Assigned)
	if len(replicaMap) == 0 {
		return metadata.TopicStatus{Resolution: metadata.TopicInvalidConfig, Reason: "invalid replica map"}
	}
	return metadata.TopicStatus{Resolution: metadata.TopicProvisioned, ReplicaMap: replicaMap}
}

// adoptExisting keeps the replica list of every partition that already exists.
func adoptExisting(replicaMap metadata.ReplicaMap, partitions []metadata.PartitionObject) metadata.ReplicaMap {
	for _, p := range partitions {
		if _, ok := replicaMap[p.Key.Partition]; ok {
			replicaMap[p.Key.Partition] = append([]int32(nil), p.Spec.Replicas...)
		}
	}
	return replicaMap
}

// degrade checks a provisioned topic against the SPUs still registered.
func degrade(topic metadata.TopicObject, spus []metadata.SpuObject) (metadata.TopicStatus, bool) {
	if topic.Status.Resolution != metadata.TopicProvisioned {
		return metadata.TopicStatus{}, false
	}
	reason, short := shortfall(topic.Spec, topic.Status.ReplicaMap, spus)
	if !short {
		return metadata.TopicStatus{}, false
	}
	return insufficientTopic(topic.Status, reason), true
}

// shortfall reports why the registered SPUs can no longer carry replicaMap. A computed
// topic first needs as many SPUs as its replication factor; every topic needs each SPU
// its replicas sit on.
func shortfall(spec metadata.TopicSpec, replicaMap metadata.ReplicaMap, spus []metadata.SpuObject) (string, bool) {
	if spec.IsComputed() {
		if short := spec.Computed.ReplicationFactor - int32(len(spus)); short > 0 {
			return (&placement.InsufficientResourcesError{Need: int(short)}).Error(), true
		}
	}
	known := spuIDs(spus)
	for _, id := range replicaMap.SpuIDs() {
		if _, ok := known[id]; !ok {
			return fmt.Sprintf("invalid spu id: %d", id), true
		}
	}
	return "", false
}

// insufficientTopic keeps the replica map so partitions stay where they are until the
// missing SPUs come back.
func insufficientTopic(prev metadata.TopicStatus, reason string) metadata.TopicStatus {
	return metadata.TopicStatus{
		Resolution: metadata.TopicInsufficientResources,
		ReplicaMap: prev.ReplicaMap.Clone(),
		Reason:     reason,
	}
}

func missingPartitions(topic metadata.TopicObject, partitions []metadata.PartitionObject) []metadata.PartitionObject {
	existing := make(map[int32]struct{}, len(partitions))
	for _, p := range partitions {
		existing[p.Key.Partition] = struct{}{}
	}
	var out []metadata.PartitionObject
	for _, idx := range topic.Status.ReplicaMap.Partitions() {
		if _, ok := existing[idx]; ok {
			continue
		}
		obj := metadata.NewObject(
			metadata.NewReplicaKey(topic.Key, idx),
			metadata.NewPartitionSpec(topic.Status.ReplicaMap[idx]),
			metadata.NewPartitionStatus(),
		)
		out = append(out, obj.WithContext(topic.Ctx.Child(metadata.KindTopic, topic.Key)))
	}
	return out
}

func spuIDs(spus []metadata.SpuObject) map[int32]struct{} {
	out := make(map[int32]struct{}, len(spus))
	for _, spu := range spus {
		out[spu.Spec.ID] = struct{}{}
	}
	return out
}

func topicStatusEqual(a, b metadata.TopicStatus) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

// TopicConfig tunes a TopicController.
type TopicConfig struct {
	// Interval is the period of the full evaluation pass.
	Interval time.Duration
	// Start is handed to the placement engine. Zero value means placement.RandomStart
	// unless FixedStart is set.
	Start      int
	FixedStart bool
	Logger     *zap.Logger
}

// TopicController drives every topic toward Provisioned and materializes its partitions.
// All evaluation happens on the Run goroutine; handlers only queue work.
type TopicController struct {
	topics     *metadata.TopicStore
	spus       *metadata.SpuStore
	partitions *metadata.PartitionStore
	topicAPI   *metadata.Typed[string, metadata.TopicSpec, metadata.TopicStatus]
	partAPI    *metadata.Typed[metadata.ReplicaKey, metadata.PartitionSpec, metadata.PartitionStatus]
	interval   time.Duration
	start      int
	logger     *zap.Logger

	trigger chan struct{}

	mu     sync.Mutex
	respec map[string]struct{}
}

// NewTopicController builds a controller writing through client.
func NewTopicController(client metadata.Client, topics *metadata.TopicStore, spus *metadata.SpuStore, partitions *metadata.PartitionStore, cfg TopicConfig) *TopicController {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultTopicInterval
	}
	start := placement.RandomStart
	if cfg.FixedStart {
		start = cfg.Start
	}
	return &TopicController{
		topics:     topics,
		spus:       spus,
		partitions: partitions,
		topicAPI:   metadata.NewTyped(client, metadata.TopicDescriptor),
		partAPI:    metadata.NewTyped(client, metadata.PartitionDescriptor),
		interval:   cfg.Interval,
		start:      start,
		logger:     cfg.Logger.Named("topic-controller"),
		trigger:    make(chan struct{}, 1),
		respec:     make(map[string]struct{}),
	}
}

// OnTopicChanges is a reconcile.Handler for the topic syncer.
func (c *TopicController) OnTopicChanges(_ context.Context, changes []reconcile.TopicChange) {
	c.mu.Lock()
	for _, change := range changes {
		if change.Action == reconcile.ActionMod && change.SpecChanged() {
			c.respec[change.Key()] = struct{}{}
		}
	}
	c.mu.Unlock()
	c.Trigger()
}

// OnSpuChanges is a reconcile.Handler for the SPU syncer.
func (c *TopicController) OnSpuChanges(_ context.Context, _ []reconcile.SpuChange) {
	c.Trigger()
}

// Trigger asks for an evaluation pass. It never blocks.
func (c *TopicController) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run evaluates on every trigger and on every tick until ctx is done.
func (c *TopicController) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.trigger:
		case <-ticker.C:
		}
		c.ReconcileAll(ctx)
	}
}

// ReconcileAll removes orphaned partitions, then evaluates every topic once. Both
// are derived from the local stores, so anything that fails is retried on the next
// pass. It must only run once the stores hold the initial listing.
func (c *TopicController) ReconcileAll(ctx context.Context) {
	c.mu.Lock()
	respec := c.respec
	c.respec = make(map[string]struct{})
	c.mu.Unlock()

	if err := c.removeOrphans(ctx); err != nil {
		controllerErrors.WithLabelValues("topic").Inc()
		c.logger.Warn("partition cascade failed", zap.Error(err))
	}
	for _, topic := range c.topics.Values() {
		if _, ok := respec[topic.Key]; ok {
			c.logger.Info("topic spec changed, revalidating", zap.String("topic", topic.Key))
			topic.Status.Resolution = metadata.TopicInit
		}
		if err := c.reconcile(ctx, topic); err != nil {
			controllerErrors.WithLabelValues("topic").Inc()
			c.logger.Warn("topic reconcile failed", zap.String("topic", topic.Key), zap.Error(err))
		}
	}
}

// Reconcile evaluates one topic from the local store.
func (c *TopicController) Reconcile(ctx context.Context, name string) error {
	topic, ok := c.topics.Value(name)
	if !ok {
		return &metadata.NotFoundError{Label: metadata.TopicDescriptor.Label, Key: name}
	}
	return c.reconcile(ctx, topic)
}

func (c *TopicController) reconcile(ctx context.Context, topic metadata.TopicObject) error {
	spus := c.spus.Values()
	partitions := c.ownedPartitions(topic.Key)

	next := NextState(topic, spus, partitions, c.start)
	if next.Status.Resolution == metadata.TopicPending && topic.Status.Resolution != metadata.TopicPending {
		validated := topic
		validated.Status = next.Status
		next = NextState(validated, spus, partitions, c.start)
	}

	stored, _ := c.topics.Value(topic.Key)
	if !topicStatusEqual(stored.Status, next.Status) {
		if err := c.topicAPI.UpdateStatus(ctx, topic.Key, next.Status); err != nil {
			return fmt.Errorf("update topic status: %w", err)
		}
		topicTransitions.WithLabelValues(string(stored.Status.Resolution), string(next.Status.Resolution)).Inc()
		c.logger.Info("topic resolution",
			zap.String("topic", topic.Key),
			zap.String("from", string(stored.Status.Resolution)),
			zap.String("to", string(next.Status.Resolution)),
			zap.String("reason", next.Status.Reason))
	}

	for _, partition := range next.Partitions {
		err := c.partAPI.Create(ctx, partition)
		if err != nil && !errors.Is(err, metadata.ErrAlreadyExists) {
			return fmt.Errorf("create partition %s: %w", partition.Key, err)
		}
		if err == nil {
			partitionsCreated.Inc()
			c.logger.Debug("partition created", zap.Stringer("partition", partition.Key), zap.Int32s("replicas", partition.Spec.Replicas))
		}
	}
	return nil
}

// ownedPartitions returns the partitions of topic, leaving out leftovers of an earlier
// topic with the same name.
func (c *TopicController) ownedPartitions(topic string) []metadata.PartitionObject {
	return c.partitions.Filter(func(p metadata.PartitionObject) bool {
		return p.Key.Topic == topic && !c.orphaned(p)
	})
}

// orphaned reports whether p names a topic owner that no longer exists. A partition
// whose parent uid differs from the uid of the stored topic belongs to a deleted
// topic that was recreated under the same name.
func (c *TopicController) orphaned(p metadata.PartitionObject) bool {
	parent := p.Ctx.Parent
	if parent == nil || parent.Kind != metadata.KindTopic {
		return false
	}
	owner, ok := c.topics.Value(parent.Key)
	if !ok {
		return true
	}
	return parent.UID != "" && owner.Ctx.UID != "" && parent.UID != owner.Ctx.UID
}

func (c *TopicController) removeOrphans(ctx context.Context) error {
	orphans := c.partitions.Filter(c.orphaned)
	var errs []error
	removed := make(map[string]int)
	for _, p := range orphans {
		if err := c.partAPI.Delete(ctx, p.Key); err != nil && !errors.Is(err, metadata.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete partition %s: %w", p.Key, err))
			continue
		}
		removed[p.Ctx.Parent.Key]++
	}
	for topic, n := range removed {
		c.logger.Info("topic deleted, partitions removed", zap.String("topic", topic), zap.Int("partitions", n))
	}
	return errors.Join(errs...)
}
