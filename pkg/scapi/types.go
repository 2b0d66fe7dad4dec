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
	"encoding/json"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
)

// ObjectKind selects what a List or Delete request works on.
type ObjectKind string

const (
	KindTopic     ObjectKind = "topic"
	KindSpu       ObjectKind = "spu"
	KindCustomSpu ObjectKind = "custom-spu"
	KindSpuGroup  ObjectKind = "spugroup"
	KindPartition ObjectKind = "partition"
)

// DefaultResyncPeriodMs is the WatchMetadata resync period when the request leaves it unset.
const DefaultResyncPeriodMs int64 = 60000

type ListRequest struct {
	Kind ObjectKind `json:"kind"`
	// NameFilters keeps objects whose name contains any of the filters. Empty keeps all.
	NameFilters []string `json:"nameFilters,omitempty"`
}

// Metadata is one listed object.
type Metadata struct {
	Name   string          `json:"name"`
	Spec   json.RawMessage `json:"spec"`
	Status json.RawMessage `json:"status"`
}

type ListResponse struct {
	Kind  ObjectKind `json:"kind"`
	Items []Metadata `json:"items"`
}

// CustomSpuSpec registers an SPU that is not provisioned from a group.
type CustomSpuSpec struct {
	ID              int32                `json:"id"`
	PublicEndpoint  metadata.IngressPort `json:"publicEndpoint"`
	PrivateEndpoint metadata.Endpoint    `json:"privateEndpoint"`
	Rack            string               `json:"rack,omitempty"`
}

// SpuSpec converts the request into a stored SPU spec.
func (c CustomSpuSpec) SpuSpec() metadata.SpuSpec {
	return metadata.SpuSpec{
		ID:              c.ID,
		Type:            metadata.SpuTypeCustom,
		PublicEndpoint:  c.PublicEndpoint,
		PrivateEndpoint: c.PrivateEndpoint,
		Rack:            c.Rack,
	}.Clone()
}

// CreateRequest carries exactly one of Topic, CustomSpu or SpuGroup.
type CreateRequest struct {
	Name      string                 `json:"name"`
	DryRun    bool                   `json:"dryRun,omitempty"`
	Topic     *metadata.TopicSpec    `json:"topic,omitempty"`
	CustomSpu *CustomSpuSpec         `json:"customSpu,omitempty"`
	SpuGroup  *metadata.SpuGroupSpec `json:"spuGroup,omitempty"`
}

// DeleteRequest removes a topic, a custom SPU or a group. Custom SPUs can be named
// either by name or as "id:{n}".
type DeleteRequest struct {
	Kind ObjectKind `json:"kind"`
	Key  string     `json:"key"`
}

// Status is the outcome of a Create or Delete request.
type Status struct {
	Name      string             `json:"name"`
	ErrorCode protocol.ErrorCode `json:"errorCode"`
	Reason    string             `json:"reason,omitempty"`
}

// OK reports whether the request succeeded.
func (s Status) OK() bool { return s.ErrorCode == protocol.ErrorNone }

func okStatus(name string) Status { return Status{Name: name} }

func errStatus(name string, code protocol.ErrorCode, reason string) Status {
	return Status{Name: name, ErrorCode: code, Reason: reason}
}

type WatchMetadataRequest struct {
	ResyncPeriodMs int64 `json:"resyncPeriodMs,omitempty"`
}

// MetadataUpdate is one message of a WatchMetadata stream. Exactly one field is set.
type MetadataUpdate struct {
	All      *protocol.UpdateAll     `json:"all,omitempty"`
	Spus     *protocol.UpdateSpu     `json:"spus,omitempty"`
	Replicas *protocol.UpdateReplica `json:"replicas,omitempty"`
}
