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

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a resource kind. It is also the etcd key segment of the kind.
type Kind string

const (
	KindSpu       Kind = "spu"
	KindTopic     Kind = "topic"
	KindPartition Kind = "partition"
	KindSpuGroup  Kind = "spugroup"
)

// Kinds lists every kind the controller syncs.
var Kinds = []Kind{KindSpu, KindTopic, KindPartition, KindSpuGroup}

var (
	// ErrNotFound indicates the key is not present.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates the key or a unique attribute is already taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidConfig indicates a spec that can never be provisioned as written.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrConflict indicates a concurrent modification won the compare-and-swap.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvalidKey indicates a key that cannot be parsed for its kind.
	ErrInvalidKey = errors.New("invalid key")
)

// NotFoundError reports a status update against a missing key.
type NotFoundError struct {
	Label string
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s': not found, cannot update", e.Label, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConfigError carries the reason a spec can never be provisioned as written. Its
// message is the bare reason so it can be surfaced in a status.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

func configError(reason string) error { return &ConfigError{Reason: reason} }

// ConfigErrorf builds a ConfigError from a format string.
func ConfigErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// ParentRef points at the owner of an object by kind and key, never by reference.
type ParentRef struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`
	UID  string `json:"uid,omitempty"`
}

// ObjectContext carries backing-store identity and ownership.
type ObjectContext struct {
	UID      string     `json:"uid,omitempty"`
	Revision int64      `json:"revision,omitempty"`
	Parent   *ParentRef `json:"parent,omitempty"`
}

// Child returns a context for an object owned by the object this context belongs to.
func (c ObjectContext) Child(kind Kind, key string) ObjectContext {
	return ObjectContext{Parent: &ParentRef{Kind: kind, Key: key, UID: c.UID}}
}

// OwnedBy reports whether the parent reference names kind/key.
func (c ObjectContext) OwnedBy(kind Kind, key string) bool {
	return c.Parent != nil && c.Parent.Kind == kind && c.Parent.Key == key
}

func (c ObjectContext) Clone() ObjectContext {
	out := c
	if c.Parent != nil {
		parent := *c.Parent
		out.Parent = &parent
	}
	return out
}

// Object is one resource: key, desired state, observed state and context.
type Object[K comparable, S any, T any] struct {
	Key    K
	Spec   S
	Status T
	Ctx    ObjectContext
}

// NewObject builds an object without backing-store identity.
func NewObject[K comparable, S any, T any](key K, spec S, status T) Object[K, S, T] {
	return Object[K, S, T]{Key: key, Spec: spec, Status: status}
}

// IsOwnedBy reports whether the object's parent carries the given uid.
func (o Object[K, S, T]) IsOwnedBy(uid string) bool {
	return uid != "" && o.Ctx.Parent != nil && o.Ctx.Parent.UID == uid
}

// WithContext returns a copy with ctx set.
func (o Object[K, S, T]) WithContext(ctx ObjectContext) Object[K, S, T] {
	o.Ctx = ctx
	return o
}

// Cloner is implemented by every spec and status type.
type Cloner[T any] interface {
	Clone() T
}

// Descriptor bundles what generic code needs to know about a kind.
type Descriptor[K comparable, S Cloner[S], T Cloner[T]] struct {
	Kind      Kind
	Label     string
	Compare   func(a, b K) int
	FormatKey func(K) string
	ParseKey  func(string) (K, error)
	NewStatus func() T
}

func cloneObject[K comparable, S Cloner[S], T Cloner[T]](o Object[K, S, T]) Object[K, S, T] {
	return Object[K, S, T]{Key: o.Key, Spec: o.Spec.Clone(), Status: o.Status.Clone(), Ctx: o.Ctx.Clone()}
}

func parseName(raw string) (string, error) {
	if raw == "" || strings.ContainsAny(raw, "/ ") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return raw, nil
}

func identity(s string) string { return s }

var (
	SpuDescriptor = Descriptor[string, SpuSpec, SpuStatus]{
		Kind: KindSpu, Label: "Spu",
		Compare: strings.Compare, FormatKey: identity, ParseKey: parseName,
		NewStatus: NewSpuStatus,
	}
	TopicDescriptor = Descriptor[string, TopicSpec, TopicStatus]{
		Kind: KindTopic, Label: "Topic",
		Compare: strings.Compare, FormatKey: identity, ParseKey: parseName,
		NewStatus: NewTopicStatus,
	}
	PartitionDescriptor = Descriptor[ReplicaKey, PartitionSpec, PartitionStatus]{
		Kind: KindPartition, Label: "Partition",
		Compare:   compareReplicaKeys,
		FormatKey: ReplicaKey.String,
		ParseKey: func(raw string) (ReplicaKey, error) {
			key, err := ParseReplicaKey(raw)
			if err != nil {
				return ReplicaKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			return key, nil
		},
		NewStatus: NewPartitionStatus,
	}
	SpuGroupDescriptor = Descriptor[string, SpuGroupSpec, SpuGroupStatus]{
		Kind: KindSpuGroup, Label: "SpuGroup",
		Compare: strings.Compare, FormatKey: identity, ParseKey: parseName,
		NewStatus: NewSpuGroupStatus,
	}
)
