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
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	scv1alpha1 "github.com/novatechflow/streamcontroller/api/v1alpha1"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

func testScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	utilruntime.Must(scv1alpha1.AddToScheme(scheme))
	utilruntime.Must(corev1.AddToScheme(scheme))
	utilruntime.Must(appsv1.AddToScheme(scheme))
	return scheme
}

func assertFound(t *testing.T, c client.Client, obj client.Object, namespace, name string) {
	t.Helper()
	if err := c.Get(context.Background(), types.NamespacedName{Namespace: namespace, Name: name}, obj); err != nil {
		t.Fatalf("expected %T %s/%s: %v", obj, namespace, name, err)
	}
}

type fixture struct {
	store     *metadata.MemoryClient
	k8s       client.Client
	reconcile *SpuGroupReconciler
}

func newFixture(t *testing.T, group *scv1alpha1.SpuGroup) fixture {
	t.Helper()
	scheme := testScheme(t)
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(group).
		WithStatusSubresource(&scv1alpha1.SpuGroup{}).
		Build()
	store := metadata.NewMemoryClient()
	t.Cleanup(func() { store.Close() })
	return fixture{
		store: store,
		k8s:   c,
		reconcile: &SpuGroupReconciler{
			Client:      c,
			Scheme:      scheme,
			Publisher:   NewGroupPublisher(store),
			PrivateAddr: "sc-private:9004",
		},
	}
}

func (f fixture) run(t *testing.T, name string) ctrl.Result {
	t.Helper()
	res, err := f.reconcile.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "fluvio", Name: name}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return res
}

func (f fixture) group(t *testing.T, name string) *scv1alpha1.SpuGroup {
	t.Helper()
	group := &scv1alpha1.SpuGroup{}
	assertFound(t, f.k8s, group, "fluvio", name)
	return group
}

func newGroup(name string, replicas int32) *scv1alpha1.SpuGroup {
	return &scv1alpha1.SpuGroup{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "fluvio"},
		Spec: scv1alpha1.SpuGroupSpec{
			Replicas: replicas,
			MinID:    5000,
			Rack:     "r1",
			Env:      []corev1.EnvVar{{Name: "RUST_LOG", Value: "info"}},
		},
	}
}

func TestReconcilePublishesAndWaitsForReservation(t *testing.T) {
	f := newFixture(t, newGroup("main", 2))

	res := f.run(t, "main")
	if res.RequeueAfter != pendingRequeueDelay {
		t.Fatalf("expected requeue while pending, got %+v", res)
	}
	stored, err := metadata.NewTyped(f.store, metadata.SpuGroupDescriptor).Get(context.Background(), "main")
	if err != nil {
		t.Fatalf("group not published: %v", err)
	}
	if stored.Spec.Replicas != 2 || stored.Spec.MinID != 5000 || stored.Spec.SpuConfig.Rack != "r1" {
		t.Fatalf("unexpected published spec: %+v", stored.Spec)
	}
	if stored.Spec.SpuConfig.Storage.Size == "" {
		t.Fatalf("published spec should carry storage defaults")
	}
	if got := f.group(t, "main").Status.Phase; got != string(metadata.SpuGroupInit) {
		t.Fatalf("expected Init phase, got %q", got)
	}

	sts := &appsv1.StatefulSet{}
	if err := f.k8s.Get(context.Background(), types.NamespacedName{Namespace: "fluvio", Name: "main"}, sts); err == nil {
		t.Fatalf("workloads should wait for the reservation")
	}
}

func TestReconcileReservedGroupCreatesWorkloads(t *testing.T) {
	f := newFixture(t, newGroup("main", 2))
	f.run(t, "main")

	groups := metadata.NewTyped(f.store, metadata.SpuGroupDescriptor)
	if err := groups.UpdateStatus(context.Background(), "main", metadata.SpuGroupStatus{Resolution: metadata.SpuGroupReserved}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if res := f.run(t, "main"); res.RequeueAfter != 0 {
		t.Fatalf("unexpected requeue: %+v", res)
	}

	svc := &corev1.Service{}
	assertFound(t, f.k8s, svc, "fluvio", "main")
	if svc.Spec.ClusterIP != corev1.ClusterIPNone {
		t.Fatalf("expected headless service, got ClusterIP %q", svc.Spec.ClusterIP)
	}

	sts := &appsv1.StatefulSet{}
	assertFound(t, f.k8s, sts, "fluvio", "main")
	if sts.Spec.Replicas == nil || *sts.Spec.Replicas != 2 {
		t.Fatalf("unexpected replicas: %v", sts.Spec.Replicas)
	}
	if sts.Spec.ServiceName != "main" {
		t.Fatalf("expected governing service main, got %q", sts.Spec.ServiceName)
	}
	container := sts.Spec.Template.Spec.Containers[0]
	for name, want := range map[string]string{
		"SPU_MIN_ID":  "5000",
		"SPU_RACK":    "r1",
		"SPU_SC_ADDR": "sc-private:9004",
		"RUST_LOG":    "info",
	} {
		if got := envValue(container.Env, name); got != want {
			t.Fatalf("env %s: expected %q, got %q", name, want, got)
		}
	}
	if len(sts.Spec.VolumeClaimTemplates) != 1 {
		t.Fatalf("expected a storage claim template")
	}

	group := f.group(t, "main")
	if group.Status.Phase != string(metadata.SpuGroupReserved) {
		t.Fatalf("expected Reserved phase, got %q", group.Status.Phase)
	}
	cond := meta.FindStatusCondition(group.Status.Conditions, conditionReady)
	if cond == nil || cond.Status != metav1.ConditionFalse {
		t.Fatalf("group should not be ready before pods are: %+v", cond)
	}
}

func TestReconcileMirrorsInvalidGroup(t *testing.T) {
	f := newFixture(t, newGroup("main", 2))
	f.run(t, "main")
	groups := metadata.NewTyped(f.store, metadata.SpuGroupDescriptor)
	reason := "spu id 5000 is already used by 'custom-1'"
	if err := groups.UpdateStatus(context.Background(), "main", metadata.SpuGroupStatus{Resolution: metadata.SpuGroupInvalid, Reason: reason}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	f.run(t, "main")

	group := f.group(t, "main")
	if group.Status.Phase != string(metadata.SpuGroupInvalid) || group.Status.Reason != reason {
		t.Fatalf("unexpected status: %+v", group.Status)
	}
}

func TestReconcileRejectsZeroReplicas(t *testing.T) {
	f := newFixture(t, newGroup("empty", 0))
	f.run(t, "empty")
	if got := f.group(t, "empty").Status.Phase; got != string(metadata.SpuGroupInvalid) {
		t.Fatalf("expected Invalid phase, got %q", got)
	}
	_, err := metadata.NewTyped(f.store, metadata.SpuGroupDescriptor).Get(context.Background(), "empty")
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("invalid group should not be published, got %v", err)
	}
}

func TestReconcileDeletedGroupIsRemoved(t *testing.T) {
	group := newGroup("main", 1)
	f := newFixture(t, group)
	f.run(t, "main")
	if err := f.k8s.Delete(context.Background(), group); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	f.run(t, "main")
	_, err := metadata.NewTyped(f.store, metadata.SpuGroupDescriptor).Get(context.Background(), "main")
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("expected group removed from the store, got %v", err)
	}
	// A second pass finds nothing to remove.
	f.run(t, "main")
}

func TestPullPolicyParsing(t *testing.T) {
	if got := parsePullPolicy("Always"); got != corev1.PullAlways {
		t.Fatalf("expected Always, got %q", got)
	}
	if got := parsePullPolicy(" Never "); got != corev1.PullNever {
		t.Fatalf("expected Never, got %q", got)
	}
	if got := parsePullPolicy("bogus"); got != corev1.PullIfNotPresent {
		t.Fatalf("expected IfNotPresent, got %q", got)
	}
}

func envValue(env []corev1.EnvVar, name string) string {
	for _, e := range env {
		if e.Name == name {
			return e.Value
		}
	}
	return ""
}
