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


// Package changefeed publishes reconciled metadata changes to a Kafka topic.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/reconcile"
)

// DefaultTopic receives change events when no topic is configured.
const DefaultTopic = "sc-metadata-changes"

// Event is the record value written for every change.
type Event struct {
	Kind   metadata.Kind   `json:"kind"`
	Action string          `json:"action"`
	Key    string          `json:"key"`
	Spec   json.RawMessage `json:"spec,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

// Producer is the subset of *kgo.Client the feed writes through.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Feed turns change batches into records. Produce is asynchronous; failures only
// reach the log and the failure counter.
type Feed struct {
	producer Producer
	topic    string
	logger   *zap.Logger
}

// Dial connects a franz-go client to brokers.
func Dial(brokers []string, topic string, logger *zap.Logger) (*Feed, error) {
	if len(brokers) == 0 {
		return nil, errors.New("changefeed brokers required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordDeliveryTimeout(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return New(client, topic, logger), nil
}

// New wraps an existing producer.
func New(producer Producer, topic string, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Feed{producer: producer, topic: topic, logger: logger.Named("changefeed")}
}

// Close waits up to timeout for buffered records, then closes the client.
func (f *Feed) Close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := f.producer.Flush(ctx); err != nil {
		f.logger.Warn("flush change feed failed", zap.Error(err))
	}
	f.producer.Close()
}

func (f *Feed) publish(ctx context.Context, ev Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		produced.WithLabelValues(string(ev.Kind), "error").Inc()
		f.logger.Warn("encode change event failed", zap.String("key", ev.Key), zap.Error(err))
		return
	}
	record := &kgo.Record{Topic: f.topic, Key: []byte(ev.Key), Value: value}
	f.producer.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			produced.WithLabelValues(string(ev.Kind), "error").Inc()
			f.logger.Warn("publish change event failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("key", ev.Key),
				zap.Error(err))
			return
		}
		produced.WithLabelValues(string(ev.Kind), "ok").Inc()
	})
}

// Handler returns a syncer handler that publishes every change of one kind.
func Handler[K comparable, S metadata.Cloner[S], T metadata.Cloner[T]](f *Feed, desc metadata.Descriptor[K, S, T]) reconcile.Handler[K, S, T] {
	return func(ctx context.Context, changes []reconcile.Change[K, S, T]) {
		for _, change := range changes {
			raw, err := metadata.Encode(desc, change.Object())
			if err != nil {
				produced.WithLabelValues(string(desc.Kind), "error").Inc()
				f.logger.Warn("encode change failed", zap.String("kind", string(desc.Kind)), zap.Error(err))
				continue
			}
			ev := Event{Kind: desc.Kind, Action: change.Action.String(), Key: raw.Key, Spec: raw.Spec, Status: raw.Status}
			if change.Action == reconcile.ActionDelete {
				ev.Status = nil
			}
			f.publish(ctx, ev)
		}
	}
}
