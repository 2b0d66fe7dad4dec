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


package operator

import (
	"context"
	"errors"

	scv1alpha1 "github.com/novatechflow/streamcontroller/api/v1alpha1"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

// GroupPublisher writes SpuGroup resources into the controller's backing store and
// reads back the status the controller assigned.
type GroupPublisher struct {
	groups *metadata.Typed[string, metadata.SpuGroupSpec, metadata.SpuGroupStatus]
}

// NewGroupPublisher binds a publisher to client.
func NewGroupPublisher(client metadata.Client) *GroupPublisher {
	return &GroupPublisher{groups: metadata.NewTyped(client, metadata.SpuGroupDescriptor)}
}

// Publish stores the group spec and returns the stored status.
func (p *GroupPublisher) Publish(ctx context.Context, name string, spec metadata.SpuGroupSpec) (metadata.SpuGroupStatus, error) {
	if err := p.groups.ApplySpec(ctx, name, spec); err != nil {
		operatorPublishResults.WithLabelValues("error").Inc()
		return metadata.SpuGroupStatus{}, err
	}
	operatorPublishResults.WithLabelValues("success").Inc()
	obj, err := p.groups.Get(ctx, name)
	if err != nil {
		return metadata.SpuGroupStatus{}, err
	}
	return obj.Status, nil
}

// Remove deletes the group from the backing store. A missing group is not an error.
func (p *GroupPublisher) Remove(ctx context.Context, name string) error {
	if err := p.groups.Delete(ctx, name); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return err
	}
	return nil
}

// toMetadataSpec converts the resource spec into the stored form with defaults filled.
func toMetadataSpec(spec scv1alpha1.SpuGroupSpec) metadata.SpuGroupSpec {
	out := metadata.SpuGroupSpec{
		MinID: spec.MinID,
		SpuConfig: metadata.SpuConfig{
			Rack:        spec.Rack,
			Replication: metadata.ReplicationConfig{InSyncReplicaMin: clampUint16(spec.Replication.InSyncReplicaMin)},
			Storage:     metadata.StorageConfig{LogDir: spec.Storage.LogDir, Size: spec.Storage.Size},
		},
	}
	out.Replicas = clampUint16(spec.Replicas)
	for _, env := range spec.Env {
		if env.ValueFrom != nil {
			continue
		}
		out.SpuConfig.Env = append(out.SpuConfig.Env, metadata.EnvVar{Name: env.Name, Value: env.Value})
	}
	return out.WithDefaults()
}

func clampUint16(v int32) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 0xffff:
		return 0xffff
	default:
		return uint16(v)
	}
}
