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

// Package reconcile turns backing-store listings and watch events into changes
// against a local metadata store.
package reconcile

import (
	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

// Engine diffs backing-store objects of one kind against a local store. It is not
// safe for concurrent use; one goroutine per kind drives it.
type Engine[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]] struct {
	store  *metadata.Store[K, S, T]
	desc   metadata.Descriptor[K, S, T]
	logger *zap.Logger
}

// NewEngine builds an engine writing into store.
func NewEngine[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]](store *metadata.Store[K, S, T], logger *zap.Logger) *Engine[K, S, T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	desc := store.Descriptor()
	return &Engine[K, S, T]{
		store:  store,
		desc:   desc,
		logger: logger.Named("reconcile").With(zap.String("kind", string(desc.Kind))),
	}
}

// Store returns the local store the engine writes into.
func (e *Engine[K, S, T]) Store() *metadata.Store[K, S, T] { return e.store }

// ApplyList reconciles a full listing: new keys are added, changed values modified,
// equal values skipped, and every local key missing from the listing deleted.
func (e *Engine[K, S, T]) ApplyList(items []metadata.RawObject) []Change[K, S, T] {
	changes, stats := e.applyList(items)
	e.record(stats)
	e.logger.Debug("applied listing",
		zap.Int("local", e.store.Count()),
		zap.Int("add", stats.Add),
		zap.Int("mod", stats.Mod),
		zap.Int("del", stats.Delete),
		zap.Int("skip", stats.Skip))
	return changes
}

func (e *Engine[K, S, T]) applyList(items []metadata.RawObject) ([]Change[K, S, T], Stats) {
	var stats Stats
	changes := make([]Change[K, S, T], 0)
	unseen := make(map[K]struct{}, e.store.Count())
	for _, key := range e.store.Keys() {
		unseen[key] = struct{}{}
	}

	for _, raw := range items {
		obj, err := e.convert(raw)
		if err != nil {
			stats.Skip++
			stats.Errors++
			continue
		}
		delete(unseen, obj.Key)
		switch e.store.Check(obj) {
		case metadata.CheckSameValue:
			stats.Skip++
		case metadata.CheckDifferentValue:
			old, _ := e.store.Insert(obj)
			changes = append(changes, Mod(obj, old))
			stats.Mod++
		default:
			e.store.Insert(obj)
			changes = append(changes, Add(obj))
			stats.Add++
		}
	}

	// Keys are deleted in store order so the result is deterministic.
	for _, key := range e.store.Keys() {
		if _, ok := unseen[key]; !ok {
			continue
		}
		old, ok := e.store.Remove(key)
		if !ok {
			stats.Skip++
			e.logger.Warn("key vanished during listing", zap.String("key", e.desc.FormatKey(key)))
			continue
		}
		changes = append(changes, Delete(old))
		stats.Delete++
	}
	return changes, stats
}

// ApplyWatch reconciles watch events in order.
func (e *Engine[K, S, T]) ApplyWatch(events []metadata.WatchEvent) []Change[K, S, T] {
	changes, stats := e.applyWatch(events)
	e.record(stats)
	e.logger.Debug("applied watch events",
		zap.Int("events", len(events)),
		zap.Int("add", stats.Add),
		zap.Int("mod", stats.Mod),
		zap.Int("del", stats.Delete),
		zap.Int("skip", stats.Skip))
	return changes
}

func (e *Engine[K, S, T]) applyWatch(events []metadata.WatchEvent) ([]Change[K, S, T], Stats) {
	var stats Stats
	changes := make([]Change[K, S, T], 0, len(events))
	for _, event := range events {
		switch event.Type {
		case metadata.EventAdded:
			obj, err := e.convert(event.Object)
			if err != nil {
				stats.Skip++
				stats.Errors++
				continue
			}
			old, existed := e.store.Insert(obj)
			switch {
			case !existed:
				changes = append(changes, Add(obj))
				stats.Add++
			case metadata.Equal(old, obj):
				e.inconsistent("added key already present with the same value", obj.Key)
				stats.Skip++
			default:
				e.inconsistent("added key already present, treating as modify", obj.Key)
				changes = append(changes, Mod(obj, old))
				stats.Mod++
			}

		case metadata.EventModified:
			obj, err := e.convert(event.Object)
			if err != nil {
				stats.Skip++
				stats.Errors++
				continue
			}
			old, existed := e.store.Insert(obj)
			switch {
			case !existed:
				e.inconsistent("modified key not found, treating as add", obj.Key)
				changes = append(changes, Add(obj))
				stats.Add++
			case metadata.Equal(old, obj):
				e.inconsistent("modified key carries the stored value, ignoring", obj.Key)
				stats.Skip++
			default:
				changes = append(changes, Mod(obj, old))
				stats.Mod++
			}

		case metadata.EventDeleted:
			key, err := e.desc.ParseKey(event.Object.Key)
			if err != nil {
				e.conversionFailed(event.Object.Key, err)
				stats.Skip++
				stats.Errors++
				continue
			}
			old, ok := e.store.Remove(key)
			if !ok {
				e.inconsistent("deleted key not found, skipping", key)
				stats.Skip++
				continue
			}
			changes = append(changes, Delete(old))
			stats.Delete++

		default:
			e.logger.Warn("unknown watch event type", zap.String("type", string(event.Type)))
			stats.Skip++
		}
	}
	return changes, stats
}

func (e *Engine[K, S, T]) convert(raw metadata.RawObject) (metadata.Object[K, S, T], error) {
	obj, err := metadata.Decode(e.desc, raw)
	if err != nil {
		e.conversionFailed(raw.Key, err)
		return obj, &ConversionError{Kind: e.desc.Kind, Key: raw.Key, Err: err}
	}
	return obj, nil
}

func (e *Engine[K, S, T]) conversionFailed(key string, err error) {
	conversionErrors.WithLabelValues(string(e.desc.Kind)).Inc()
	e.logger.Error("skipping unreadable object", zap.String("key", key), zap.Error(err))
}

func (e *Engine[K, S, T]) inconsistent(msg string, key K) {
	inconsistencies.WithLabelValues(string(e.desc.Kind)).Inc()
	e.logger.Warn(msg, zap.String("key", e.desc.FormatKey(key)))
}

func (e *Engine[K, S, T]) record(stats Stats) {
	kind := string(e.desc.Kind)
	actionsTotal.WithLabelValues(kind, ActionAdd.String()).Add(float64(stats.Add))
	actionsTotal.WithLabelValues(kind, ActionMod.String()).Add(float64(stats.Mod))
	actionsTotal.WithLabelValues(kind, ActionDelete.String()).Add(float64(stats.Delete))
	skippedTotal.WithLabelValues(kind).Add(float64(stats.Skip))
}
