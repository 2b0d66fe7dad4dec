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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultRequestTimeout = 3 * time.Second
	casAttempts           = 5
)

// EtcdClientConfig defines how we connect to etcd.
type EtcdClientConfig struct {
	Endpoints      []string
	Username       string
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// Prefix is the root of every key, DefaultKeyPrefix when empty.
	Prefix string
	Logger *zap.Logger
}

// EtcdClient is a Client backed by etcd. Objects are JSON documents stored under
// {prefix}/{kind}/{key}.
type EtcdClient struct {
	client         *clientv3.Client
	prefix         string
	requestTimeout time.Duration
	owned          bool
	logger         *zap.Logger
}

// NewEtcdClient connects to etcd.
func NewEtcdClient(cfg EtcdClientConfig) (*EtcdClient, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	c := WrapEtcdClient(cli, cfg.Prefix, logger)
	c.owned = true
	if cfg.RequestTimeout > 0 {
		c.requestTimeout = cfg.RequestTimeout
	}
	return c, nil
}

// WrapEtcdClient uses an existing connection. Close does not close it.
func WrapEtcdClient(cli *clientv3.Client, prefix string, logger *zap.Logger) *EtcdClient {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdClient{
		client:         cli,
		prefix:         strings.TrimSuffix(prefix, "/"),
		requestTimeout: defaultRequestTimeout,
		logger:         logger.Named("metadata-etcd"),
	}
}

// Raw exposes the underlying etcd client.
func (c *EtcdClient) Raw() *clientv3.Client { return c.client }

// Prefix returns the key root.
func (c *EtcdClient) Prefix() string { return c.prefix }

// List implements Client.
func (c *EtcdClient) List(ctx context.Context, kind Kind) (ListResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	prefix := KindPrefix(c.prefix, kind)
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", kind, err)
	}
	items := make([]RawObject, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := strings.TrimPrefix(string(kv.Key), prefix)
		items = append(items, decodeDocument(key, kv.ModRevision, kv.Value))
	}
	return ListResult{Items: items, Revision: resp.Header.Revision}, nil
}

// Watch implements Client.
func (c *EtcdClient) Watch(ctx context.Context, kind Kind, fromRevision int64) <-chan WatchResult {
	out := make(chan WatchResult, 16)
	prefix := KindPrefix(c.prefix, kind)
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision))
	}
	watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	watch := c.client.Watch(watchCtx, prefix, opts...)
	go func() {
		defer close(out)
		defer cancel()
		for resp := range watch {
			if err := resp.Err(); err != nil {
				select {
				case out <- WatchResult{Err: fmt.Errorf("watch %s: %w", kind, err), Revision: resp.CompactRevision}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Events) == 0 {
				continue
			}
			events := make([]WatchEvent, 0, len(resp.Events))
			for _, ev := range resp.Events {
				key := strings.TrimPrefix(string(ev.Kv.Key), prefix)
				switch {
				case ev.Type == clientv3.EventTypeDelete:
					events = append(events, WatchEvent{Type: EventDeleted, Object: RawObject{Key: key, Revision: ev.Kv.ModRevision}})
				case ev.IsCreate():
					events = append(events, WatchEvent{Type: EventAdded, Object: decodeDocument(key, ev.Kv.ModRevision, ev.Kv.Value)})
				default:
					events = append(events, WatchEvent{Type: EventModified, Object: decodeDocument(key, ev.Kv.ModRevision, ev.Kv.Value)})
				}
			}
			select {
			case out <- WatchResult{Events: events, Revision: resp.Header.Revision}:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil {
			select {
			case out <- WatchResult{Err: fmt.Errorf("watch %s: channel closed", kind)}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// Create implements Client.
func (c *EtcdClient) Create(ctx context.Context, kind Kind, obj RawObject) error {
	if obj.UID == "" {
		obj.UID = uuid.NewString()
	}
	payload, err := encodeDocument(obj)
	if err != nil {
		return err
	}
	key := ObjectKey(c.prefix, kind, obj.Key)
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(payload))).
		Commit()
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if !resp.Succeeded {
		return alreadyExists(kind, obj.Key)
	}
	return nil
}

// Apply implements Client.
func (c *EtcdClient) Apply(ctx context.Context, kind Kind, obj RawObject) error {
	return c.casUpdate(ctx, kind, obj.Key, true, func(existing *RawObject) (RawObject, error) {
		next := obj
		if existing == nil {
			if next.UID == "" {
				next.UID = uuid.NewString()
			}
			return next, nil
		}
		next.UID = existing.UID
		if len(next.Status) == 0 {
			next.Status = existing.Status
		}
		return next, nil
	})
}

// UpdateStatus implements Client.
func (c *EtcdClient) UpdateStatus(ctx context.Context, kind Kind, key string, status json.RawMessage) error {
	return c.casUpdate(ctx, kind, key, false, func(existing *RawObject) (RawObject, error) {
		if existing == nil {
			return RawObject{}, notFound(kind, key)
		}
		if existing.Err != nil {
			return RawObject{}, existing.Err
		}
		next := *existing
		next.Status = status
		return next, nil
	})
}

// casUpdate reads key, lets mutate compute the next document and writes it only if
// nobody changed the key in between.
func (c *EtcdClient) casUpdate(ctx context.Context, kind Kind, key string, allowCreate bool, mutate func(*RawObject) (RawObject, error)) error {
	etcdKey := ObjectKey(c.prefix, kind, key)
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		getCtx, cancelGet := context.WithTimeout(ctx, c.requestTimeout)
		resp, err := c.client.Get(getCtx, etcdKey)
		cancelGet()
		if err != nil {
			return fmt.Errorf("get %s: %w", etcdKey, err)
		}
		var existing *RawObject
		var modRevision int64
		if len(resp.Kvs) > 0 {
			raw := decodeDocument(key, resp.Kvs[0].ModRevision, resp.Kvs[0].Value)
			existing = &raw
			modRevision = resp.Kvs[0].ModRevision
		} else if !allowCreate {
			return notFound(kind, key)
		}
		next, err := mutate(existing)
		if err != nil {
			return err
		}
		payload, err := encodeDocument(next)
		if err != nil {
			return err
		}

		putCtx, cancelPut := context.WithTimeout(ctx, c.requestTimeout)
		txn := c.client.Txn(putCtx)
		if existing == nil {
			txn = txn.If(clientv3.Compare(clientv3.CreateRevision(etcdKey), "=", 0))
		} else {
			txn = txn.If(clientv3.Compare(clientv3.ModRevision(etcdKey), "=", modRevision))
		}
		txnResp, err := txn.Then(clientv3.OpPut(etcdKey, string(payload))).Commit()
		cancelPut()
		if err != nil {
			return fmt.Errorf("put %s: %w", etcdKey, err)
		}
		if txnResp.Succeeded {
			return nil
		}
		lastErr = fmt.Errorf("%s %q: %w", kind, key, ErrConflict)
		c.logger.Debug("compare-and-swap lost, retrying", zap.String("key", etcdKey), zap.Int("attempt", attempt+1))
		if err := sleepWithContext(ctx, time.Duration(attempt+1)*50*time.Millisecond); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Delete implements Client.
func (c *EtcdClient) Delete(ctx context.Context, kind Kind, key string) error {
	etcdKey := ObjectKey(c.prefix, kind, key)
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	resp, err := c.client.Delete(ctx, etcdKey)
	if err != nil {
		return fmt.Errorf("delete %s: %w", etcdKey, err)
	}
	if resp.Deleted == 0 {
		return notFound(kind, key)
	}
	return nil
}

// Close closes the connection if this client opened it.
func (c *EtcdClient) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
