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

package metadata

import "sort"

// TopicReplicaParams asks the controller to compute the replica placement.
type TopicReplicaParams struct {
	Partitions           int32 `json:"partitions"`
	ReplicationFactor    int32 `json:"replicationFactor"`
	IgnoreRackAssignment bool  `json:"ignoreRackAssignment,omitempty"`
}

// PartitionMap pins the replicas of one partition.
type PartitionMap struct {
	ID       int32   `json:"id"`
	Replicas []int32 `json:"replicas"`
}

// TopicSpec is either computed or assigned. Exactly one of the two is set.
type TopicSpec struct {
	Computed *TopicReplicaParams `json:"computed,omitempty"`
	Assigned []PartitionMap      `json:"assigned,omitempty"`
}

// NewComputedTopicSpec builds a spec whose placement is computed by the controller.
func NewComputedTopicSpec(partitions, replicationFactor int32, ignoreRack bool) TopicSpec {
	return TopicSpec{Computed: &TopicReplicaParams{
		Partitions:           partitions,
		ReplicationFactor:    replicationFactor,
		IgnoreRackAssignment: ignoreRack,
	}}
}

// NewAssignedTopicSpec builds a spec with an explicit partition map.
func NewAssignedTopicSpec(maps []PartitionMap) TopicSpec {
	return TopicSpec{Assigned: clonePartitionMaps(maps)}
}

// IsComputed reports whether the placement is left to the controller.
func (s TopicSpec) IsComputed() bool { return s.Computed != nil }

// PartitionCount returns the number of partitions the spec asks for.
func (s TopicSpec) PartitionCount() int32 {
	if s.Computed != nil {
		return s.Computed.Partitions
	}
	return int32(len(s.Assigned))
}

// ReplicationFactor returns the replication factor; for assigned topics the size of
// the first partition's replica list.
func (s TopicSpec) ReplicationFactor() int32 {
	if s.Computed != nil {
		return s.Computed.ReplicationFactor
	}
	if len(s.Assigned) == 0 {
		return 0
	}
	return int32(len(s.Assigned[0].Replicas))
}

// Validate checks the shape of the spec. It does not look at the cluster.
func (s TopicSpec) Validate() error {
	switch {
	case s.Computed != nil && len(s.Assigned) > 0:
		return configError("topic spec must be either computed or assigned")
	case s.Computed != nil:
		if s.Computed.Partitions <= 0 {
			return configError("partitions must be greater than 0")
		}
		if s.Computed.ReplicationFactor <= 0 {
			return configError("replication factor must be greater than 0")
		}
		return nil
	case len(s.Assigned) > 0:
		return validatePartitionMaps(s.Assigned)
	default:
		return configError("topic spec is empty")
	}
}

func validatePartitionMaps(maps []PartitionMap) error {
	seen := make(map[int32]struct{}, len(maps))
	for _, pm := range maps {
		if pm.ID < 0 {
			return ConfigErrorf("partition id %d is negative", pm.ID)
		}
		if _, dup := seen[pm.ID]; dup {
			return ConfigErrorf("duplicate partition %d", pm.ID)
		}
		seen[pm.ID] = struct{}{}
		if len(pm.Replicas) == 0 {
			return ConfigErrorf("partition %d has no replicas", pm.ID)
		}
		replicas := make(map[int32]struct{}, len(pm.Replicas))
		for _, id := range pm.Replicas {
			if _, dup := replicas[id]; dup {
				return ConfigErrorf("partition %d lists spu %d twice", pm.ID, id)
			}
			replicas[id] = struct{}{}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s TopicSpec) Clone() TopicSpec {
	out := TopicSpec{Assigned: clonePartitionMaps(s.Assigned)}
	if s.Computed != nil {
		params := *s.Computed
		out.Computed = &params
	}
	return out
}

func clonePartitionMaps(maps []PartitionMap) []PartitionMap {
	if maps == nil {
		return nil
	}
	out := make([]PartitionMap, len(maps))
	for i, pm := range maps {
		out[i] = PartitionMap{ID: pm.ID, Replicas: append([]int32(nil), pm.Replicas...)}
	}
	return out
}

// ReplicaMap maps partition index to its ordered replica list. The first entry leads.
type ReplicaMap map[int32][]int32

// Clone returns a deep copy.
func (m ReplicaMap) Clone() ReplicaMap {
	if m == nil {
		return nil
	}
	out := make(ReplicaMap, len(m))
	for idx, replicas := range m {
		out[idx] = append([]int32(nil), replicas...)
	}
	return out
}

// Partitions returns the partition indexes in ascending order.
func (m ReplicaMap) Partitions() []int32 {
	out := make([]int32, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SpuIDs returns every SPU referenced by the map, ascending and without duplicates.
func (m ReplicaMap) SpuIDs() []int32 {
	seen := make(map[int32]struct{})
	out := make([]int32, 0)
	for _, replicas := range m {
		for _, id := range replicas {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToReplicaMap converts an assigned partition list into a replica map.
func ToReplicaMap(maps []PartitionMap) ReplicaMap {
	out := make(ReplicaMap, len(maps))
	for _, pm := range maps {
		out[pm.ID] = append([]int32(nil), pm.Replicas...)
	}
	return out
}

// TopicResolution is the provisioning state of a topic.
type TopicResolution string

const (
	TopicInit                  TopicResolution = "Init"
	TopicPending               TopicResolution = "Pending"
	TopicInsufficientResources TopicResolution = "InsufficientResources"
	TopicInvalidConfig         TopicResolution = "InvalidConfig"
	TopicProvisioned           TopicResolution = "Provisioned"
)

// NeedsReplicaMap reports whether the controller still has to compute a placement.
func (r TopicResolution) NeedsReplicaMap() bool {
	return r == TopicPending || r == TopicInsufficientResources
}

// TopicStatus is the observed state of a topic.
type TopicStatus struct {
	Resolution TopicResolution `json:"resolution"`
	ReplicaMap ReplicaMap      `json:"replicaMap,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// NewTopicStatus returns the initial status.
func NewTopicStatus() TopicStatus { return TopicStatus{Resolution: TopicInit} }

// Clone returns a deep copy.
func (s TopicStatus) Clone() TopicStatus {
	out := s
	out.ReplicaMap = s.ReplicaMap.Clone()
	return out
}

// TopicObject is a topic as held in the store.
type TopicObject = Object[string, TopicSpec, TopicStatus]

// TopicStore holds topics keyed by name.
type TopicStore = Store[string, TopicSpec, TopicStatus]

// NewTopicStore builds an empty topic store.
func NewTopicStore() *TopicStore {
	return NewStore(TopicDescriptor)
}
