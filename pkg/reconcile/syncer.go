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
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

const defaultRetryBackoff = time.Second

// Handler receives the changes of one batch, in order. Handlers run on the syncer
// goroutine and should hand long work off.
type Handler[K comparable, S any, T any] func(ctx context.Context, changes []Change[K, S, T])

// Syncer keeps one local store in line with the backing store: a full listing first,
// then a watch from the listing revision. Any watch failure triggers a new listing.
type Syncer[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]] struct {
	client       metadata.Client
	engine       *Engine[K, S, T]
	logger       *zap.Logger
	retryBackoff time.Duration

	mu       sync.Mutex
	handlers []Handler[K, S, T]

	syncedOnce sync.Once
	synced     chan struct{}
}

// SyncerOption tunes a Syncer.
type SyncerOption func(*syncerOptions)

type syncerOptions struct {
	retryBackoff time.Duration
}

// WithRetryBackoff sets the pause between a failed listing or watch and the next attempt.
func WithRetryBackoff(d time.Duration) SyncerOption {
	return func(o *syncerOptions) {
		if d > 0 {
			o.retryBackoff = d
		}
	}
}

// NewSyncer builds a syncer for the kind of store.
func NewSyncer[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]](client metadata.Client, store *metadata.Store[K, S, T], logger *zap.Logger, opts ...SyncerOption) *Syncer[K, S, T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := syncerOptions{retryBackoff: defaultRetryBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	return &Syncer[K, S, T]{
		client:       client,
		engine:       NewEngine(store, logger),
		logger:       logger.Named("syncer").With(zap.String("kind", string(store.Descriptor().Kind))),
		retryBackoff: o.retryBackoff,
		synced:       make(chan struct{}),
	}
}

// Handle registers h. Handlers registered after Run started only see later batches.
func (s *Syncer[K, S, T]) Handle(h Handler[K, S, T]) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// Store returns the local store kept in sync.
func (s *Syncer[K, S, T]) Store() *metadata.Store[K, S, T] { return s.engine.Store() }

// Synced is closed once the first listing has been applied.
func (s *Syncer[K, S, T]) Synced() <-chan struct{} { return s.synced }

// Run lists and watches until ctx is done.
func (s *Syncer[K, S, T]) Run(ctx context.Context) error {
	kind := s.engine.desc.Kind
	for {
		revision, err := s.resync(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			resyncs.WithLabelValues(string(kind), "error").Inc()
			s.logger.Warn("listing failed", zap.Error(err))
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}
		resyncs.WithLabelValues(string(kind), "ok").Inc()

		watchErr := s.watch(ctx, revision+1)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("watch ended, relisting", zap.Error(watchErr))
		if !s.sleep(ctx) {
			return nil
		}
	}
}

func (s *Syncer[K, S, T]) resync(ctx context.Context) (int64, error) {
	res, err := s.client.List(ctx, s.engine.desc.Kind)
	if err != nil {
		return 0, err
	}
	s.dispatch(ctx, s.engine.ApplyList(res.Items))
	s.syncedOnce.Do(func() { close(s.synced) })
	return res.Revision, nil
}

func (s *Syncer[K, S, T]) watch(ctx context.Context, fromRevision int64) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for res := range s.client.Watch(watchCtx, s.engine.desc.Kind, fromRevision) {
		if res.Err != nil {
			return res.Err
		}
		s.dispatch(ctx, s.engine.ApplyWatch(res.Events))
	}
	return nil
}

func (s *Syncer[K, S, T]) dispatch(ctx context.Context, changes []Change[K, S, T]) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	handlers := append([]Handler[K, S, T](nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ctx, changes)
	}
}

func (s *Syncer[K, S, T]) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.retryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
