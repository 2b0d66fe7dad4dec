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


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/novatechflow/streamcontroller/pkg/archive"
	"github.com/novatechflow/streamcontroller/pkg/changefeed"
	"github.com/novatechflow/streamcontroller/pkg/config"
	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/controller"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/metrics"
	"github.com/novatechflow/streamcontroller/pkg/notify"
	"github.com/novatechflow/streamcontroller/pkg/privateapi"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
	"github.com/novatechflow/streamcontroller/pkg/scapi"
)

// app wires every controller component around one metadata client.
type app struct {
	cfg    config.Config
	client metadata.Client
	logger *zap.Logger
	stores metadata.Stores

	// publicListener, when set, is used instead of listening on cfg.Server.PublicAddr.
	publicListener net.Listener
	// ready is closed once every syncer finished its first listing.
	ready chan struct{}
}

func newApp(cfg config.Config, client metadata.Client, logger *zap.Logger) *app {
	return &app{
		cfg:    cfg,
		client: client,
		logger: logger,
		stores: metadata.NewStores(),
		ready:  make(chan struct{}),
	}
}

// Run starts syncers, controllers and servers and blocks until ctx is done or one of
// them fails.
func (a *app) Run(ctx context.Context) error {
	cfg := a.cfg
	notifications := notify.NewBroadcaster[connmgr.Notification](cfg.Controller.BroadcastBuffer)
	defer notifications.Close()

	conns := connmgr.New(a.stores.Spus, a.stores.Partitions, notifications, connmgr.Config{
		Dialer:      connmgr.TCPDialer{Timeout: cfg.Controller.PushTimeout},
		PushTimeout: cfg.Controller.PushTimeout,
		Concurrency: cfg.Controller.PushConcurrency,
		Logger:      a.logger,
	})

	spuSyncer := reconcile.NewSyncer(a.client, a.stores.Spus, a.logger)
	topicSyncer := reconcile.NewSyncer(a.client, a.stores.Topics, a.logger)
	partitionSyncer := reconcile.NewSyncer(a.client, a.stores.Partitions, a.logger)
	groupSyncer := reconcile.NewSyncer(a.client, a.stores.SpuGroups, a.logger)

	topics := controller.NewTopicController(a.client, a.stores.Topics, a.stores.Spus, a.stores.Partitions, controller.TopicConfig{
		Interval: cfg.Controller.TopicReconcileInterval,
		Logger:   a.logger,
	})
	partitions := controller.NewPartitionController(a.client, a.stores.Partitions, conns, a.logger)
	spus := controller.NewSpuController(a.client, a.stores.Spus, conns, a.logger)
	groups := controller.NewSpuGroupController(a.client, a.stores.SpuGroups, a.stores.Spus, a.logger)

	topicSyncer.Handle(topics.OnTopicChanges)
	spuSyncer.Handle(spus.OnSpuChanges)
	spuSyncer.Handle(topics.OnSpuChanges)
	spuSyncer.Handle(partitions.OnSpuChanges)
	spuSyncer.Handle(groups.OnSpuChanges)
	partitionSyncer.Handle(partitions.OnPartitionChanges)
	groupSyncer.Handle(groups.OnSpuGroupChanges)

	if cfg.ChangeFeed.Enabled() {
		feed, err := changefeed.Dial(cfg.ChangeFeed.Brokers, cfg.ChangeFeed.Topic, a.logger)
		if err != nil {
			return fmt.Errorf("change feed: %w", err)
		}
		defer feed.Close(5 * time.Second)
		spuSyncer.Handle(changefeed.Handler(feed, metadata.SpuDescriptor))
		topicSyncer.Handle(changefeed.Handler(feed, metadata.TopicDescriptor))
		partitionSyncer.Handle(changefeed.Handler(feed, metadata.PartitionDescriptor))
		groupSyncer.Handle(changefeed.Handler(feed, metadata.SpuGroupDescriptor))
		a.logger.Info("change feed enabled", zap.Strings("brokers", cfg.ChangeFeed.Brokers), zap.String("topic", cfg.ChangeFeed.Topic))
	}

	var (
		sched  *archive.Scheduler
		health *archive.HealthMonitor
	)
	if cfg.Archive.Enabled() {
		bucket, err := archive.NewS3Bucket(ctx, archive.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			ForcePathStyle:  cfg.Archive.ForcePathStyle,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			KMSKeyARN:       cfg.Archive.KMSKeyARN,
		})
		if err != nil {
			return fmt.Errorf("archive bucket: %w", err)
		}
		health = archive.NewHealthMonitor(archive.HealthConfig{})
		bucket = archive.WithHealth(bucket, health)
		archiver := archive.NewArchiver(bucket, a.stores, cfg.Archive.Prefix, a.logger)
		sched = archive.NewScheduler(archiver, cfg.Archive.Interval, a.logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return spuSyncer.Run(ctx) })
	g.Go(func() error { return topicSyncer.Run(ctx) })
	g.Go(func() error { return partitionSyncer.Run(ctx) })
	g.Go(func() error { return groupSyncer.Run(ctx) })

	synced := []<-chan struct{}{spuSyncer.Synced(), topicSyncer.Synced(), partitionSyncer.Synced(), groupSyncer.Synced()}
	for _, ch := range synced {
		select {
		case <-ch:
		case <-ctx.Done():
			return g.Wait()
		}
	}
	a.logger.Info("initial sync complete",
		zap.Int("spus", a.stores.Spus.Count()),
		zap.Int("topics", a.stores.Topics.Count()),
		zap.Int("partitions", a.stores.Partitions.Count()),
		zap.Int("spugroups", a.stores.SpuGroups.Count()))
	close(a.ready)

	g.Go(func() error { return topics.Run(ctx) })

	private := &privateapi.Server{
		Addr:     cfg.Server.PrivateAddr,
		Spus:     a.stores.Spus,
		Conns:    conns,
		Liveness: spus,
		Reporter: partitions,
		Logger:   a.logger,
	}
	g.Go(func() error { return private.ListenAndServe(ctx) })

	public := &scapi.Server{
		Addr:    cfg.Server.PublicAddr,
		Service: scapi.NewService(a.client, a.stores, notifications, a.logger),
		Logger:  a.logger,
	}
	g.Go(func() error {
		if a.publicListener != nil {
			return public.Serve(ctx, a.publicListener)
		}
		return public.ListenAndServe(ctx)
	})

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Server.MetricsAddr, health, a.logger) })
	}

	if sched != nil {
		g.Go(func() error {
			if err := sched.Run(ctx); err != nil {
				a.logger.Error("metadata archive disabled", zap.Error(err))
			}
			return nil
		})
	}

	a.logger.Info("stream controller running",
		zap.String("public", cfg.Server.PublicAddr),
		zap.String("private", cfg.Server.PrivateAddr),
		zap.String("metrics", cfg.Server.MetricsAddr))
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, health *archive.HealthMonitor, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	if health != nil {
		mux.HandleFunc("/archive/health", func(w http.ResponseWriter, r *http.Request) {
			report := health.Report()
			w.Header().Set("Content-Type", "application/json")
			if report.State == archive.HealthUnavailable {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(report)
		})
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
