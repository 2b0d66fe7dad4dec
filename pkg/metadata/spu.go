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

// SpuType distinguishes SPUs provisioned from a SpuGroup from SPUs registered by hand.
type SpuType string

const (
	SpuTypeManaged SpuType = "Managed"
	SpuTypeCustom  SpuType = "Custom"
)

// Label returns the lower-case name used in listings.
func (t SpuType) Label() string {
	switch t {
	case SpuTypeCustom:
		return "custom"
	default:
		return "managed"
	}
}

// EncryptionType names the transport security of an endpoint.
type EncryptionType string

const (
	EncryptionPlaintext EncryptionType = "PLAINTEXT"
	EncryptionSSL       EncryptionType = "SSL"
)

// IngressAddr is one externally reachable address of a public endpoint.
type IngressAddr struct {
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// IngressPort is the client-facing endpoint of an SPU.
type IngressPort struct {
	Port       uint16         `json:"port"`
	Ingress    []IngressAddr  `json:"ingress,omitempty"`
	Encryption EncryptionType `json:"encryption,omitempty"`
}

// Host returns the first usable ingress address, if any.
func (p IngressPort) Host() string {
	for _, addr := range p.Ingress {
		if addr.Hostname != "" {
			return addr.Hostname
		}
		if addr.IP != "" {
			return addr.IP
		}
	}
	return ""
}

// Endpoint is a host/port pair.
type Endpoint struct {
	Host       string         `json:"host"`
	Port       uint16         `json:"port"`
	Encryption EncryptionType `json:"encryption,omitempty"`
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// SpuSpec is the desired state of a data-plane node.
type SpuSpec struct {
	ID              int32       `json:"id"`
	Type            SpuType     `json:"spuType"`
	PublicEndpoint  IngressPort `json:"publicEndpoint"`
	PrivateEndpoint Endpoint    `json:"privateEndpoint"`
	Rack            string      `json:"rack,omitempty"`
}

// NewSpuSpec returns a spec with the unassigned id.
func NewSpuSpec() SpuSpec {
	return SpuSpec{ID: -1, Type: SpuTypeManaged}
}

// IsCustom reports whether the SPU was registered by hand.
func (s SpuSpec) IsCustom() bool { return s.Type == SpuTypeCustom }

// HasRack reports whether the SPU carries a rack label.
func (s SpuSpec) HasRack() bool { return s.Rack != "" }

// Clone returns a deep copy.
func (s SpuSpec) Clone() SpuSpec {
	out := s
	if s.PublicEndpoint.Ingress != nil {
		out.PublicEndpoint.Ingress = append([]IngressAddr(nil), s.PublicEndpoint.Ingress...)
	}
	return out
}

// SpuResolution is the liveness of an SPU as observed by the controller.
type SpuResolution string

const (
	SpuInit    SpuResolution = "Init"
	SpuOnline  SpuResolution = "Online"
	SpuOffline SpuResolution = "Offline"
)

// SpuStatus is the observed state of an SPU.
type SpuStatus struct {
	Resolution SpuResolution `json:"resolution"`
}

// NewSpuStatus returns the initial status.
func NewSpuStatus() SpuStatus { return SpuStatus{Resolution: SpuInit} }

// IsOnline reports whether the SPU currently holds a live registration.
func (s SpuStatus) IsOnline() bool { return s.Resolution == SpuOnline }

func (s SpuStatus) Clone() SpuStatus { return s }

// SpuObject is an SPU as held in the store.
type SpuObject = Object[string, SpuSpec, SpuStatus]

// SpuStore holds SPUs keyed by name.
type SpuStore = Store[string, SpuSpec, SpuStatus]

// NewSpuStore builds an empty SPU store.
func NewSpuStore() *SpuStore {
	return NewStore(SpuDescriptor)
}

// SpuByID finds the SPU carrying id.
func SpuByID(store *SpuStore, id int32) (SpuObject, bool) {
	matches := store.Filter(func(o SpuObject) bool { return o.Spec.ID == id })
	if len(matches) == 0 {
		return SpuObject{}, false
	}
	return matches[0], true
}

// OnlineSpus returns the SPUs that hold a live registration, in name order.
func OnlineSpus(store *SpuStore) []SpuObject {
	return store.Filter(func(o SpuObject) bool { return o.Status.IsOnline() })
}

// SpuIDSet returns the ids of every stored SPU.
func SpuIDSet(store *SpuStore) map[int32]struct{} {
	out := make(map[int32]struct{})
	for _, spec := range store.Specs() {
		out[spec.ID] = struct{}{}
	}
	return out
}
