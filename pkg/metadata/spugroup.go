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

import "fmt"

const (
	defaultStorageLogDir = "/tmp/fluvio"
	defaultStorageSize   = "1Gi"

	// DefaultPublicPort and DefaultPrivatePort are the ports managed SPUs listen on.
	DefaultPublicPort  uint16 = 9005
	DefaultPrivatePort uint16 = 9006
)

// ReplicationConfig tunes replication of the SPUs in a group.
type ReplicationConfig struct {
	InSyncReplicaMin uint16 `json:"inSyncReplicaMin,omitempty"`
}

// StorageConfig is the log storage template of a group.
type StorageConfig struct {
	LogDir string `json:"logDir,omitempty"`
	Size   string `json:"size,omitempty"`
}

// EnvVar is passed to every SPU of a group.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SpuConfig is the template applied to every SPU of a group.
type SpuConfig struct {
	Rack        string            `json:"rack,omitempty"`
	Replication ReplicationConfig `json:"replication,omitempty"`
	Storage     StorageConfig     `json:"storage,omitempty"`
	Env         []EnvVar          `json:"env,omitempty"`
}

// SpuGroupSpec describes a set of managed SPUs provisioned together.
type SpuGroupSpec struct {
	Replicas  uint16    `json:"replicas"`
	MinID     int32     `json:"minId"`
	SpuConfig SpuConfig `json:"spuConfig,omitempty"`
}

// WithDefaults fills the storage template.
func (s SpuGroupSpec) WithDefaults() SpuGroupSpec {
	out := s.Clone()
	if out.SpuConfig.Storage.LogDir == "" {
		out.SpuConfig.Storage.LogDir = defaultStorageLogDir
	}
	if out.SpuConfig.Storage.Size == "" {
		out.SpuConfig.Storage.Size = defaultStorageSize
	}
	return out
}

// Validate checks the group shape without looking at the cluster.
func (s SpuGroupSpec) Validate() error {
	if s.Replicas == 0 {
		return configError("replicas must be greater than 0")
	}
	if s.MinID < 0 {
		return configError("min id must not be negative")
	}
	return nil
}

// SpuIDs returns the ids the group reserves.
func (s SpuGroupSpec) SpuIDs() []int32 {
	out := make([]int32, 0, s.Replicas)
	for i := int32(0); i < int32(s.Replicas); i++ {
		out = append(out, s.MinID+i)
	}
	return out
}

// Contains reports whether id falls within the reserved range.
func (s SpuGroupSpec) Contains(id int32) bool {
	return id >= s.MinID && id < s.MinID+int32(s.Replicas)
}

// SpuName is the name of the i-th SPU of a group.
func SpuName(group string, i int) string {
	return fmt.Sprintf("%s-%d", group, i)
}

// ManagedSpuSpec builds the spec of the i-th SPU of a group.
func (s SpuGroupSpec) ManagedSpuSpec(group string, i int) SpuSpec {
	host := fmt.Sprintf("%s.%s", SpuName(group, i), group)
	return SpuSpec{
		ID:   s.MinID + int32(i),
		Type: SpuTypeManaged,
		PublicEndpoint: IngressPort{
			Port:       DefaultPublicPort,
			Ingress:    []IngressAddr{{Hostname: host}},
			Encryption: EncryptionPlaintext,
		},
		PrivateEndpoint: Endpoint{Host: host, Port: DefaultPrivatePort, Encryption: EncryptionPlaintext},
		Rack:            s.SpuConfig.Rack,
	}
}

func (s SpuGroupSpec) Clone() SpuGroupSpec {
	out := s
	if s.SpuConfig.Env != nil {
		out.SpuConfig.Env = append([]EnvVar(nil), s.SpuConfig.Env...)
	}
	return out
}

// SpuGroupResolution is the validation state of a group.
type SpuGroupResolution string

const (
	SpuGroupInit     SpuGroupResolution = "Init"
	SpuGroupInvalid  SpuGroupResolution = "Invalid"
	SpuGroupReserved SpuGroupResolution = "Reserved"
)

// SpuGroupStatus is the observed state of a group.
type SpuGroupStatus struct {
	Resolution SpuGroupResolution `json:"resolution"`
	Reason     string             `json:"reason,omitempty"`
}

// NewSpuGroupStatus returns the initial status.
func NewSpuGroupStatus() SpuGroupStatus { return SpuGroupStatus{Resolution: SpuGroupInit} }

func (s SpuGroupStatus) Clone() SpuGroupStatus { return s }

// SpuGroupObject is a group as held in the store.
type SpuGroupObject = Object[string, SpuGroupSpec, SpuGroupStatus]

// SpuGroupStore holds groups keyed by name.
type SpuGroupStore = Store[string, SpuGroupSpec, SpuGroupStatus]

// NewSpuGroupStore builds an empty group store.
func NewSpuGroupStore() *SpuGroupStore {
	return NewStore(SpuGroupDescriptor)
}
