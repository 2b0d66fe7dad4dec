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
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/etcd/client/v3/concurrency"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/config"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

// backend owns the etcd connection, the optional embedded server and the
// leadership session.
type backend struct {
	client   *metadata.EtcdClient
	embedded *embed.Etcd
	session  *concurrency.Session
	logger   *zap.Logger
}

func openBackend(ctx context.Context, cfg config.EtcdConfig, logger *zap.Logger) (*backend, error) {
	b := &backend{logger: logger.Named("backend")}
	endpoints := cfg.Endpoints
	if cfg.EmbeddedDir != "" {
		e, err := startEmbedded(ctx, cfg.EmbeddedDir)
		if err != nil {
			return nil, err
		}
		b.embedded = e
		endpoints = []string{"http://" + e.Clients[0].Addr().String()}
		b.logger.Info("embedded etcd started", zap.String("dir", cfg.EmbeddedDir), zap.Strings("endpoints", endpoints))
	}

	etcdLogger := logger
	if cfg.SilenceLogs {
		etcdLogger = zap.NewNop()
	}
	client, err := metadata.NewEtcdClient(metadata.EtcdClientConfig{
		Endpoints:   endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Prefix:      cfg.Prefix,
		Logger:      etcdLogger,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	b.client = client
	return b, nil
}

func startEmbedded(ctx context.Context, dir string) (*embed.Etcd, error) {
	cfg := embed.NewConfig()
	cfg.Dir = dir
	cfg.LogLevel = "error"
	cfg.Logger = "zap"
	e, err := embed.StartEtcd(cfg)
	if err != nil {
		return nil, fmt.Errorf("start embedded etcd: %w", err)
	}
	select {
	case <-e.Server.ReadyNotify():
		return e, nil
	case <-time.After(30 * time.Second):
		e.Close()
		return nil, errors.New("embedded etcd took too long to start")
	case <-ctx.Done():
		e.Close()
		return nil, ctx.Err()
	}
}

// Client returns the metadata client.
func (b *backend) Client() metadata.Client { return b.client }

// Campaign blocks until this process leads. The returned channel is closed when
// the leadership session expires.
func (b *backend) Campaign(ctx context.Context, cfg config.EtcdConfig) (<-chan struct{}, error) {
	session, err := concurrency.NewSession(b.client.Raw(), concurrency.WithTTL(cfg.LeaseSeconds))
	if err != nil {
		return nil, fmt.Errorf("create etcd session: %w", err)
	}
	b.session = session
	id, _ := os.Hostname()
	if id == "" {
		id = fmt.Sprintf("sc-%d", os.Getpid())
	}
	b.logger.Info("campaigning for leadership", zap.String("key", cfg.LeaderKey), zap.String("id", id))
	election := concurrency.NewElection(session, cfg.LeaderKey)
	if err := election.Campaign(ctx, id); err != nil {
		return nil, fmt.Errorf("campaign: %w", err)
	}
	b.logger.Info("leadership acquired", zap.String("id", id))
	return session.Done(), nil
}

func (b *backend) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
	if b.client != nil {
		_ = b.client.Close()
	}
	if b.embedded != nil {
		b.embedded.Close()
	}
}
