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


package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// SpuGroupSpec declares a set of managed SPUs. The group reserves the ids
// MinID..MinID+Replicas-1.
type SpuGroupSpec struct {
	Replicas    int32                       `json:"replicas"`
	MinID       int32                       `json:"minId,omitempty"`
	Rack        string                      `json:"rack,omitempty"`
	Replication ReplicationSpec             `json:"replication,omitempty"`
	Storage     StorageSpec                 `json:"storage,omitempty"`
	Env         []corev1.EnvVar             `json:"env,omitempty"`
	Resources   corev1.ResourceRequirements `json:"resources,omitempty"`
}

type ReplicationSpec struct {
	InSyncReplicaMin int32 `json:"inSyncReplicaMin,omitempty"`
}

type StorageSpec struct {
	LogDir string `json:"logDir,omitempty"`
	Size   string `json:"size,omitempty"`
}

// SpuGroupStatus mirrors the controller's view of the group.
type SpuGroupStatus struct {
	Phase         string             `json:"phase,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	ReadyReplicas int32              `json:"readyReplicas,omitempty"`
	Conditions    []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:printcolumn:name="Replicas",type=integer,JSONPath=`.spec.replicas`
//+kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`

// SpuGroup is the Schema for the spugroups API.
type SpuGroup struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SpuGroupSpec   `json:"spec,omitempty"`
	Status SpuGroupStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// SpuGroupList contains a list of SpuGroup.
type SpuGroupList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []SpuGroup `json:"items"`
}

func init() {
	SchemeBuilder.Register(&SpuGroup{}, &SpuGroupList{})
}

func (in *SpuGroupSpec) DeepCopyInto(out *SpuGroupSpec) {
	*out = *in
	if in.Env != nil {
		out.Env = make([]corev1.EnvVar, len(in.Env))
		for i := range in.Env {
			in.Env[i].DeepCopyInto(&out.Env[i])
		}
	}
	in.Resources.DeepCopyInto(&out.Resources)
}

func (in *SpuGroupSpec) DeepCopy() *SpuGroupSpec {
	if in == nil {
		return nil
	}
	out := new(SpuGroupSpec)
	in.DeepCopyInto(out)
	return out
}

func (in *SpuGroupStatus) DeepCopyInto(out *SpuGroupStatus) {
	*out = *in
	if in.Conditions != nil {
		out.Conditions = make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&out.Conditions[i])
		}
	}
}

func (in *SpuGroupStatus) DeepCopy() *SpuGroupStatus {
	if in == nil {
		return nil
	}
	out := new(SpuGroupStatus)
	in.DeepCopyInto(out)
	return out
}

func (in *SpuGroup) DeepCopyInto(out *SpuGroup) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

func (in *SpuGroup) DeepCopy() *SpuGroup {
	if in == nil {
		return nil
	}
	out := new(SpuGroup)
	in.DeepCopyInto(out)
	return out
}

func (in *SpuGroup) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *SpuGroupList) DeepCopyInto(out *SpuGroupList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]SpuGroup, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

func (in *SpuGroupList) DeepCopy() *SpuGroupList {
	if in == nil {
		return nil
	}
	out := new(SpuGroupList)
	in.DeepCopyInto(out)
	return out
}

func (in *SpuGroupList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
