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

// Package scapi is the public client API of the controller: listing objects,
// creating and deleting topics, custom SPUs and SPU groups, and watching the
// metadata SPU clients need.
package scapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/controller"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/notify"
	"github.com/novatechflow/streamcontroller/pkg/placement"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
)

// ErrInvalidRequest marks requests that cannot be answered with a Status at all.
var ErrInvalidRequest = errors.New("invalid request")

// Service answers client requests from the local stores and writes through the
// backing store. Writes become visible once the syncers observe them.
type Service struct {
	stores        metadata.Stores
	topicAPI      *metadata.Typed[string, metadata.TopicSpec, metadata.TopicStatus]
	spuAPI        *metadata.Typed[string, metadata.SpuSpec, metadata.SpuStatus]
	groupAPI      *metadata.Typed[string, metadata.SpuGroupSpec, metadata.SpuGroupStatus]
	notifications *notify.Broadcaster[connmgr.Notification]
	logger        *zap.Logger
}

// NewService builds the service. notifications feeds WatchMetadata streams.
func NewService(client metadata.Client, stores metadata.Stores, notifications *notify.Broadcaster[connmgr.Notification], logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifications == nil {
		notifications = notify.NewBroadcaster[connmgr.Notification](notify.DefaultCapacity)
	}
	return &Service{
		stores:        stores,
		topicAPI:      metadata.NewTyped(client, metadata.TopicDescriptor),
		spuAPI:        metadata.NewTyped(client, metadata.SpuDescriptor),
		groupAPI:      metadata.NewTyped(client, metadata.SpuGroupDescriptor),
		notifications: notifications,
		logger:        logger.Named("public-api"),
	}
}

// List returns the objects of one kind whose name contains any of the filters.
func (s *Service) List(_ context.Context, req ListRequest) (ListResponse, error) {
	var (
		items []Metadata
		err   error
	)
	switch req.Kind {
	case KindTopic:
		items, err = listStore(s.stores.Topics, req.NameFilters, nil)
	case KindSpu:
		items, err = listStore(s.stores.Spus, req.NameFilters, nil)
	case KindCustomSpu:
		items, err = listStore(s.stores.Spus, req.NameFilters, func(o metadata.SpuObject) bool { return o.Spec.IsCustom() })
	case KindSpuGroup:
		items, err = listStore(s.stores.SpuGroups, req.NameFilters, nil)
	case KindPartition:
		items, err = listStore(s.stores.Partitions, req.NameFilters, nil)
	default:
		requests.WithLabelValues("list", "InvalidRequest").Inc()
		return ListResponse{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	if err != nil {
		requests.WithLabelValues("list", protocol.ErrorUnknown.String()).Inc()
		return ListResponse{}, err
	}
	requests.WithLabelValues("list", protocol.ErrorNone.String()).Inc()
	s.logger.Debug("list", zap.String("kind", string(req.Kind)), zap.Int("items", len(items)))
	return ListResponse{Kind: req.Kind, Items: items}, nil
}

func listStore[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]](store *metadata.Store[K, S, T], filters []string, keep func(metadata.Object[K, S, T]) bool) ([]Metadata, error) {
	desc := store.Descriptor()
	out := make([]Metadata, 0)
	for _, obj := range store.Values() {
		name := desc.FormatKey(obj.Key)
		if !matchesAny(name, filters) || (keep != nil && !keep(obj)) {
			continue
		}
		raw, err := metadata.Encode(desc, obj)
		if err != nil {
			return nil, err
		}
		out = append(out, Metadata{Name: name, Spec: raw.Spec, Status: raw.Status})
	}
	return out, nil
}

func matchesAny(name string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// Create handles a topic, custom SPU or SPU group request. Exactly one spec must be set.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Status, error) {
	var (
		status Status
		method string
	)
	switch {
	case countSet(req.Topic != nil, req.CustomSpu != nil, req.SpuGroup != nil) != 1:
		requests.WithLabelValues("create", "InvalidRequest").Inc()
		return Status{}, fmt.Errorf("%w: create needs exactly one of topic, customSpu or spuGroup", ErrInvalidRequest)
	case req.Topic != nil:
		method = "create_topic"
		status = s.createTopic(ctx, req.Name, *req.Topic, req.DryRun)
	case req.CustomSpu != nil:
		method = "register_custom_spu"
		status = s.registerCustomSpu(ctx, req.Name, *req.CustomSpu, req.DryRun)
	default:
		method = "create_spu_group"
		status = s.createSpuGroup(ctx, req.Name, *req.SpuGroup, req.DryRun)
	}
	s.observe(method, status)
	return status, nil
}

// Delete removes a topic, a custom SPU or an SPU group.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (Status, error) {
	var (
		status Status
		method string
	)
	switch req.Kind {
	case KindTopic:
		method = "delete_topic"
		status = s.deleteTopic(ctx, req.Key)
	case KindCustomSpu, KindSpu:
		method = "unregister_custom_spu"
		status = s.unregisterCustomSpu(ctx, req.Key)
	case KindSpuGroup:
		method = "delete_spu_group"
		status = s.deleteSpuGroup(ctx, req.Key)
	default:
		requests.WithLabelValues("delete", "InvalidRequest").Inc()
		return Status{}, fmt.Errorf("%w: cannot delete kind %q", ErrInvalidRequest, req.Kind)
	}
	s.observe(method, status)
	return status, nil
}

func (s *Service) observe(method string, status Status) {
	requests.WithLabelValues(method, status.ErrorCode.String()).Inc()
	if status.OK() {
		s.logger.Info(method, zap.String("name", status.Name))
		return
	}
	s.logger.Info(method+" rejected",
		zap.String("name", status.Name),
		zap.Stringer("code", status.ErrorCode),
		zap.String("reason", status.Reason))
}

func (s *Service) createTopic(ctx context.Context, name string, spec metadata.TopicSpec, dryRun bool) Status {
	if st, ok := checkName(metadata.TopicDescriptor, name); !ok {
		return st
	}
	if s.stores.Topics.ContainsKey(name) {
		return errStatus(name, protocol.ErrorAlreadyExists, fmt.Sprintf("topic '%s' already defined", name))
	}
	if err := spec.Validate(); err != nil {
		return errStatus(name, protocol.ErrorConfigInvalid, err.Error())
	}
	if dryRun {
		return s.checkTopicPlacement(name, spec)
	}
	obj := metadata.NewObject(name, spec, metadata.NewTopicStatus())
	return writeStatus(name, s.topicAPI.Create(ctx, obj), fmt.Sprintf("topic '%s' already defined", name))
}

// checkTopicPlacement evaluates a topic against the SPUs present right now. A real
// create does not need it: the topic controller waits for resources on its own.
func (s *Service) checkTopicPlacement(name string, spec metadata.TopicSpec) Status {
	if spec.IsComputed() {
		online := placement.Candidates(s.stores.Spus.Values(), true)
		_, err := placement.Generate(online, placement.Params{
			Partitions:        spec.Computed.Partitions,
			ReplicationFactor: spec.Computed.ReplicationFactor,
			IgnoreRack:        spec.Computed.IgnoreRackAssignment,
		})
		var short *placement.InsufficientResourcesError
		switch {
		case errors.As(err, &short):
			return errStatus(name, protocol.ErrorInsufficientResources, err.Error())
		case err != nil:
			return errStatus(name, protocol.ErrorConfigInvalid, err.Error())
		}
		return okStatus(name)
	}
	if err := placement.ValidateAssigned(spec.Assigned, metadata.SpuIDSet(s.stores.Spus)); err != nil {
		return errStatus(name, protocol.ErrorConfigInvalid, err.Error())
	}
	return okStatus(name)
}

func (s *Service) deleteTopic(ctx context.Context, name string) Status {
	notFound := fmt.Sprintf("topic '%s' not found", name)
	if !s.stores.Topics.ContainsKey(name) {
		return errStatus(name, protocol.ErrorNotFound, notFound)
	}
	err := s.topicAPI.Delete(ctx, name)
	if errors.Is(err, metadata.ErrNotFound) {
		return errStatus(name, protocol.ErrorNotFound, notFound)
	}
	return writeStatus(name, err, "")
}

func (s *Service) registerCustomSpu(ctx context.Context, name string, spec CustomSpuSpec, dryRun bool) Status {
	if st, ok := checkName(metadata.SpuDescriptor, name); !ok {
		return st
	}
	exists := fmt.Sprintf("spu '%s(%d)' already defined", name, spec.ID)
	if s.stores.Spus.ContainsKey(name) {
		return errStatus(name, protocol.ErrorAlreadyExists, exists)
	}
	if _, taken := metadata.SpuByID(s.stores.Spus, spec.ID); taken {
		return errStatus(name, protocol.ErrorAlreadyExists, exists)
	}
	if spec.ID < 0 {
		return errStatus(name, protocol.ErrorConfigInvalid, "spu id must not be negative")
	}
	if dryRun {
		return okStatus(name)
	}
	obj := metadata.NewObject(name, spec.SpuSpec(), metadata.NewSpuStatus())
	return writeStatus(name, s.spuAPI.Create(ctx, obj), exists)
}

// unregisterCustomSpu accepts either the SPU name or "id:{n}".
func (s *Service) unregisterCustomSpu(ctx context.Context, key string) Status {
	spu, ok := s.lookupSpu(key)
	if !ok {
		return errStatus(key, protocol.ErrorNotFound, fmt.Sprintf("spu '%s' not found", key))
	}
	if !spu.Spec.IsCustom() {
		return errStatus(spu.Key, protocol.ErrorConfigInvalid,
			fmt.Sprintf("expected '%s' spu, found '%s' spu", metadata.SpuTypeCustom, spu.Spec.Type))
	}
	err := s.spuAPI.Delete(ctx, spu.Key)
	if errors.Is(err, metadata.ErrNotFound) {
		return errStatus(spu.Key, protocol.ErrorNotFound, fmt.Sprintf("spu '%s' not found", key))
	}
	return writeStatus(spu.Key, err, "")
}

func (s *Service) lookupSpu(key string) (metadata.SpuObject, bool) {
	if raw, ok := strings.CutPrefix(key, "id:"); ok {
		id, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return metadata.SpuObject{}, false
		}
		return metadata.SpuByID(s.stores.Spus, int32(id))
	}
	return s.stores.Spus.Value(key)
}

func (s *Service) createSpuGroup(ctx context.Context, name string, spec metadata.SpuGroupSpec, dryRun bool) Status {
	if st, ok := checkName(metadata.SpuGroupDescriptor, name); !ok {
		return st
	}
	exists := fmt.Sprintf("spu-group '%s' already defined", name)
	if s.stores.SpuGroups.ContainsKey(name) {
		return errStatus(name, protocol.ErrorAlreadyExists, exists)
	}
	obj := metadata.NewObject(name, spec.WithDefaults(), metadata.NewSpuGroupStatus())
	if check := controller.ValidateSpuGroup(obj, s.stores.Spus.Values()); check.Resolution == metadata.SpuGroupInvalid {
		return errStatus(name, protocol.ErrorConfigInvalid, check.Reason)
	}
	if dryRun {
		return okStatus(name)
	}
	return writeStatus(name, s.groupAPI.Create(ctx, obj), exists)
}

func (s *Service) deleteSpuGroup(ctx context.Context, name string) Status {
	notFound := fmt.Sprintf("spu-group '%s' not found", name)
	if !s.stores.SpuGroups.ContainsKey(name) {
		return errStatus(name, protocol.ErrorNotFound, notFound)
	}
	err := s.groupAPI.Delete(ctx, name)
	if errors.Is(err, metadata.ErrNotFound) {
		return errStatus(name, protocol.ErrorNotFound, notFound)
	}
	return writeStatus(name, err, "")
}

func checkName[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]](desc metadata.Descriptor[K, S, T], name string) (Status, bool) {
	if _, err := desc.ParseKey(name); err != nil {
		return errStatus(name, protocol.ErrorConfigInvalid, fmt.Sprintf("invalid %s name '%s'", strings.ToLower(desc.Label), name)), false
	}
	return Status{}, true
}

// writeStatus maps a backing-store write error to a Status. A key taken between the
// local check and the write is reported with alreadyExists.
func writeStatus(name string, err error, alreadyExists string) Status {
	switch {
	case err == nil:
		return okStatus(name)
	case errors.Is(err, metadata.ErrAlreadyExists):
		return errStatus(name, protocol.ErrorAlreadyExists, alreadyExists)
	default:
		return errStatus(name, protocol.ErrorUnknown, err.Error())
	}
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
