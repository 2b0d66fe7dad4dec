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

// Package archive writes point-in-time copies of the controller metadata to an
// object store.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

const (
	// DefaultPrefix is the key prefix archives are written under.
	DefaultPrefix = "sc-metadata"
	// LatestName is the object that always holds the newest archive.
	LatestName = "latest.json"
)

// Snapshot is one archive document.
type Snapshot struct {
	TakenAt    time.Time            `json:"takenAt"`
	Spus       []metadata.RawObject `json:"spus"`
	Topics     []metadata.RawObject `json:"topics"`
	Partitions []metadata.RawObject `json:"partitions"`
	SpuGroups  []metadata.RawObject `json:"spuGroups"`
}

// Take copies every store.
func Take(stores metadata.Stores, now time.Time) (Snapshot, error) {
	snap := Snapshot{TakenAt: now.UTC()}
	var err error
	if snap.Spus, err = encodeAll(stores.Spus); err != nil {
		return Snapshot{}, err
	}
	if snap.Topics, err = encodeAll(stores.Topics); err != nil {
		return Snapshot{}, err
	}
	if snap.Partitions, err = encodeAll(stores.Partitions); err != nil {
		return Snapshot{}, err
	}
	if snap.SpuGroups, err = encodeAll(stores.SpuGroups); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func encodeAll[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]](store *metadata.Store[K, S, T]) ([]metadata.RawObject, error) {
	values := store.Values()
	out := make([]metadata.RawObject, 0, len(values))
	for _, obj := range values {
		raw, err := metadata.Encode(store.Descriptor(), obj)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// Archiver uploads snapshots of the stores.
type Archiver struct {
	bucket Bucket
	stores metadata.Stores
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewArchiver builds an archiver writing under prefix (DefaultPrefix when empty).
func NewArchiver(bucket Bucket, stores metadata.Stores, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archiver{
		bucket: bucket,
		stores: stores,
		prefix: strings.TrimSuffix(prefix, "/"),
		now:    time.Now,
		logger: logger.Named("archive"),
	}
}

// Archive uploads one snapshot as metadata-{unix}.json and as latest.json. It
// returns the timestamped key.
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	start := time.Now()
	snap, err := Take(a.stores, a.now())
	if err != nil {
		archiveRuns.WithLabelValues("error").Inc()
		return "", err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		archiveRuns.WithLabelValues("error").Inc()
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	key := fmt.Sprintf("%s/metadata-%d.json", a.prefix, snap.TakenAt.Unix())
	for _, k := range []string{key, a.prefix + "/" + LatestName} {
		if err := a.bucket.Put(ctx, k, body); err != nil {
			archiveRuns.WithLabelValues("error").Inc()
			return "", err
		}
	}
	archiveRuns.WithLabelValues("ok").Inc()
	archiveDuration.Observe(time.Since(start).Seconds())
	a.logger.Info("metadata archived",
		zap.String("key", key),
		zap.Int("bytes", len(body)),
		zap.Int("topics", len(snap.Topics)),
		zap.Int("partitions", len(snap.Partitions)))
	return key, nil
}

// Latest reads back the newest archive.
func (a *Archiver) Latest(ctx context.Context) (Snapshot, error) {
	body, err := a.bucket.Get(ctx, a.prefix+"/"+LatestName)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Scheduler runs an Archiver on a fixed interval. A run that is still uploading
// when the next one is due makes the next one wait.
type Scheduler struct {
	archiver *Archiver
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler builds a scheduler for archiver.
func NewScheduler(archiver *Archiver, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{archiver: archiver, interval: interval, logger: logger.Named("archive-scheduler")}
}

// Run archives every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("archive interval must be positive, got %s", s.interval)
	}
	if err := s.archiver.bucket.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure archive bucket: %w", err)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.archiver.Archive(ctx); err != nil {
				s.logger.Warn("metadata archive failed", zap.Error(err))
			}
		}),
		gocron.WithName("metadata-archive"),
		gocron.WithSingletonMode(gocron.LimitModeWait),
	)
	if err != nil {
		return fmt.Errorf("schedule archive: %w", err)
	}
	sched.Start()
	s.logger.Info("archive scheduled", zap.Duration("interval", s.interval))
	<-ctx.Done()
	return sched.Shutdown()
}
