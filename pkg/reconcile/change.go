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

package reconcile

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

// Action tags a change.
type Action int

const (
	ActionAdd Action = iota
	ActionMod
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionMod:
		return "mod"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Change is one applied difference between the backing store and the local store.
// Add carries New, Delete carries Old, Mod carries both.
type Change[K comparable, S any, T any] struct {
	Action Action
	New    metadata.Object[K, S, T]
	Old    metadata.Object[K, S, T]
}

type (
	SpuChange       = Change[string, metadata.SpuSpec, metadata.SpuStatus]
	TopicChange     = Change[string, metadata.TopicSpec, metadata.TopicStatus]
	PartitionChange = Change[metadata.ReplicaKey, metadata.PartitionSpec, metadata.PartitionStatus]
	SpuGroupChange  = Change[string, metadata.SpuGroupSpec, metadata.SpuGroupStatus]
)

// SpecChanged reports whether a Mod altered the spec and not only the status.
func (c Change[K, S, T]) SpecChanged() bool {
	if c.Action != ActionMod {
		return true
	}
	return !cmp.Equal(c.New.Spec, c.Old.Spec, cmpopts.EquateEmpty())
}

// Add builds an add change.
func Add[K comparable, S any, T any](obj metadata.Object[K, S, T]) Change[K, S, T] {
	return Change[K, S, T]{Action: ActionAdd, New: obj}
}

// Mod builds a modify change.
func Mod[K comparable, S any, T any](obj, old metadata.Object[K, S, T]) Change[K, S, T] {
	return Change[K, S, T]{Action: ActionMod, New: obj, Old: old}
}

// Delete builds a delete change.
func Delete[K comparable, S any, T any](old metadata.Object[K, S, T]) Change[K, S, T] {
	return Change[K, S, T]{Action: ActionDelete, Old: old}
}

// Key returns the key the change applies to.
func (c Change[K, S, T]) Key() K {
	if c.Action == ActionDelete {
		return c.Old.Key
	}
	return c.New.Key
}

// Object returns the object as it is after the change; for deletes the removed one.
func (c Change[K, S, T]) Object() metadata.Object[K, S, T] {
	if c.Action == ActionDelete {
		return c.Old
	}
	return c.New
}

// ConversionError wraps a backing-store object that could not be turned into a
// typed object. Such objects are logged and skipped.
type ConversionError struct {
	Kind metadata.Kind
	Key  string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s %q: %v", e.Kind, e.Key, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Stats counts the outcome of one batch.
type Stats struct {
	Add, Mod, Delete, Skip, Errors int
}
