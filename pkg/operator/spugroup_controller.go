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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	meta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	scv1alpha1 "github.com/novatechflow/streamcontroller/api/v1alpha1"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

const (
	defaultSpuImage           = "ghcr.io/novatechflow/sc-spu:latest"
	defaultSpuImagePullPolicy = string(corev1.PullIfNotPresent)

	// pendingRequeueDelay is how long to wait for the controller to validate a group.
	pendingRequeueDelay = 5 * time.Second
	publishRequeueDelay = 10 * time.Second

	conditionReady = "Ready"
)

var spuImage = getEnv("SC_SPU_IMAGE", defaultSpuImage)
var spuImagePullPolicy = getEnv("SC_SPU_IMAGE_PULL_POLICY", defaultSpuImagePullPolicy)

// SpuGroupReconciler turns SpuGroup resources into a StatefulSet of SPUs and
// publishes the group to the controller.
type SpuGroupReconciler struct {
	Client    client.Client
	Scheme    *runtime.Scheme
	Publisher *GroupPublisher
	// PrivateAddr is the controller's SPU-facing address handed to every SPU.
	PrivateAddr string
}

func NewSpuGroupReconciler(mgr ctrl.Manager, publisher *GroupPublisher, privateAddr string) *SpuGroupReconciler {
	return &SpuGroupReconciler{
		Client:      mgr.GetClient(),
		Scheme:      mgr.GetScheme(),
		Publisher:   publisher,
		PrivateAddr: privateAddr,
	}
}

// Reconcile publishes the group, ensures its workloads and mirrors the
// controller's verdict into the resource status.
func (r *SpuGroupReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	var group scv1alpha1.SpuGroup
	if err := r.Client.Get(ctx, req.NamespacedName, &group); err != nil {
		if !apierrors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
		if err := r.Publisher.Remove(ctx, req.Name); err != nil {
			return ctrl.Result{}, err
		}
		recordGroupCount(ctx, r.Client)
		return ctrl.Result{}, nil
	}

	spec := toMetadataSpec(group.Spec)
	if err := spec.Validate(); err != nil {
		return ctrl.Result{}, r.updateStatus(ctx, &group, string(metadata.SpuGroupInvalid), err.Error(), metav1.ConditionFalse)
	}

	status, err := r.Publisher.Publish(ctx, group.Name, spec)
	if err != nil {
		logger.Error(err, "publish spu group failed")
		if serr := r.updateStatus(ctx, &group, "PublishFailed", err.Error(), metav1.ConditionFalse); serr != nil {
			return ctrl.Result{}, serr
		}
		return ctrl.Result{RequeueAfter: publishRequeueDelay}, nil
	}

	switch status.Resolution {
	case metadata.SpuGroupInvalid:
		return ctrl.Result{}, r.updateStatus(ctx, &group, string(status.Resolution), status.Reason, metav1.ConditionFalse)
	case metadata.SpuGroupReserved:
	default:
		if err := r.updateStatus(ctx, &group, string(metadata.SpuGroupInit), "Waiting for the controller to reserve ids", metav1.ConditionFalse); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{RequeueAfter: pendingRequeueDelay}, nil
	}

	if err := r.reconcileHeadlessService(ctx, &group); err != nil {
		return ctrl.Result{}, err
	}
	sts, err := r.reconcileStatefulSet(ctx, &group, spec)
	if err != nil {
		return ctrl.Result{}, err
	}
	group.Status.ReadyReplicas = sts.Status.ReadyReplicas
	ready := metav1.ConditionFalse
	reason := fmt.Sprintf("%d/%d SPUs ready", sts.Status.ReadyReplicas, group.Spec.Replicas)
	if sts.Status.ReadyReplicas >= group.Spec.Replicas {
		ready = metav1.ConditionTrue
	}
	if err := r.updateStatus(ctx, &group, string(metadata.SpuGroupReserved), reason, ready); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func (r *SpuGroupReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&scv1alpha1.SpuGroup{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Complete(r)
}

func groupLabels(group *scv1alpha1.SpuGroup) map[string]string {
	return map[string]string{
		"app":      "sc-spu",
		"spugroup": group.Name,
	}
}

// reconcileHeadlessService owns the service that gives every SPU pod the stable
// name {group}-{i}.{group} used by its managed SPU spec.
func (r *SpuGroupReconciler) reconcileHeadlessService(ctx context.Context, group *scv1alpha1.SpuGroup) error {
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: group.Name, Namespace: group.Namespace}}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, svc, func() error {
		svc.Spec.Selector = groupLabels(group)
		svc.Spec.ClusterIP = corev1.ClusterIPNone
		svc.Spec.PublishNotReadyAddresses = true
		svc.Spec.Ports = []corev1.ServicePort{
			{Name: "public", Port: int32(metadata.DefaultPublicPort), TargetPort: intstr.FromString("public")},
			{Name: "private", Port: int32(metadata.DefaultPrivatePort), TargetPort: intstr.FromString("private")},
		}
		return controllerutil.SetControllerReference(group, svc, r.Scheme)
	})
	return err
}

func (r *SpuGroupReconciler) reconcileStatefulSet(ctx context.Context, group *scv1alpha1.SpuGroup, spec metadata.SpuGroupSpec) (*appsv1.StatefulSet, error) {
	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: group.Name, Namespace: group.Namespace}}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, sts, func() error {
		labels := groupLabels(group)
		replicas := group.Spec.Replicas
		sts.Spec.Replicas = &replicas
		sts.Spec.ServiceName = group.Name
		sts.Spec.PodManagementPolicy = appsv1.ParallelPodManagement
		sts.Spec.Selector = &metav1.LabelSelector{MatchLabels: labels}
		sts.Spec.Template.ObjectMeta.Labels = labels
		sts.Spec.Template.Spec.Containers = []corev1.Container{r.spuContainer(group, spec)}
		if sts.CreationTimestamp.IsZero() {
			claim, err := storageClaim(spec)
			if err != nil {
				return err
			}
			sts.Spec.VolumeClaimTemplates = []corev1.PersistentVolumeClaim{claim}
		}
		return controllerutil.SetControllerReference(group, sts, r.Scheme)
	})
	return sts, err
}

func (r *SpuGroupReconciler) spuContainer(group *scv1alpha1.SpuGroup, spec metadata.SpuGroupSpec) corev1.Container {
	env := []corev1.EnvVar{
		{Name: "SPU_GROUP", Value: group.Name},
		{Name: "SPU_MIN_ID", Value: strconv.Itoa(int(spec.MinID))},
		{Name: "SPU_INDEX", ValueFrom: &corev1.EnvVarSource{
			FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.labels['apps.kubernetes.io/pod-index']"},
		}},
		{Name: "SPU_LOG_DIR", Value: spec.SpuConfig.Storage.LogDir},
		{Name: "SPU_PUBLIC_ADDR", Value: fmt.Sprintf(":%d", metadata.DefaultPublicPort)},
		{Name: "SPU_PRIVATE_ADDR", Value: fmt.Sprintf(":%d", metadata.DefaultPrivatePort)},
	}
	if strings.TrimSpace(r.PrivateAddr) != "" {
		env = append(env, corev1.EnvVar{Name: "SPU_SC_ADDR", Value: r.PrivateAddr})
	}
	if spec.SpuConfig.Rack != "" {
		env = append(env, corev1.EnvVar{Name: "SPU_RACK", Value: spec.SpuConfig.Rack})
	}
	if min := spec.SpuConfig.Replication.InSyncReplicaMin; min > 0 {
		env = append(env, corev1.EnvVar{Name: "SPU_IN_SYNC_REPLICA_MIN", Value: strconv.Itoa(int(min))})
	}
	for _, e := range group.Spec.Env {
		env = append(env, *e.DeepCopy())
	}

	return corev1.Container{
		Name:            "spu",
		Image:           spuImage,
		ImagePullPolicy: parsePullPolicy(spuImagePullPolicy),
		Ports: []corev1.ContainerPort{
			{Name: "public", ContainerPort: int32(metadata.DefaultPublicPort)},
			{Name: "private", ContainerPort: int32(metadata.DefaultPrivatePort)},
		},
		Env: env,
		VolumeMounts: []corev1.VolumeMount{
			{Name: "data", MountPath: spec.SpuConfig.Storage.LogDir},
		},
		Resources: corev1.ResourceRequirements{
			Requests: cloneResourceList(group.Spec.Resources.Requests),
			Limits:   cloneResourceList(group.Spec.Resources.Limits),
		},
	}
}

func storageClaim(spec metadata.SpuGroupSpec) (corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(spec.SpuConfig.Storage.Size)
	if err != nil {
		return corev1.PersistentVolumeClaim{}, fmt.Errorf("storage size %q: %w", spec.SpuConfig.Storage.Size, err)
	}
	return corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "data"},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}, nil
}

func (r *SpuGroupReconciler) updateStatus(ctx context.Context, group *scv1alpha1.SpuGroup, phase, reason string, ready metav1.ConditionStatus) error {
	group.Status.Phase = phase
	group.Status.Reason = reason
	meta.SetStatusCondition(&group.Status.Conditions, metav1.Condition{
		Type:               conditionReady,
		Status:             ready,
		Reason:             phase,
		Message:            reason,
		ObservedGeneration: group.Generation,
		LastTransitionTime: metav1.NewTime(time.Now()),
	})
	if err := r.Client.Status().Update(ctx, group); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	recordGroupCount(ctx, r.Client)
	return nil
}

func parsePullPolicy(policy string) corev1.PullPolicy {
	switch strings.TrimSpace(policy) {
	case string(corev1.PullAlways):
		return corev1.PullAlways
	case string(corev1.PullNever):
		return corev1.PullNever
	default:
		return corev1.PullIfNotPresent
	}
}

func cloneResourceList(in corev1.ResourceList) corev1.ResourceList {
	if len(in) == 0 {
		return nil
	}
	out := corev1.ResourceList{}
	for k, v := range in {
		out[k] = v.DeepCopy()
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
