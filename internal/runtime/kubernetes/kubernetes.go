// Copyright 2024 Andres Morey
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

// Package kubernetes implements the Kubernetes-like runtime adapter of
// spec.md §4.5.3: Pod/Service discovery with label filtering, one watch
// per resource kind with resource_version-based resumption, and 410-Gone
// / generic-error recovery.
package kubernetes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	zlog "github.com/rs/zerolog/log"

	"github.com/agntcy/discovery/internal/discoveryerr"
	"github.com/agntcy/discovery/internal/runtime"
	"github.com/agntcy/discovery/internal/workload"
)

// watchTimeout bounds each individual watch call; it is reopened on
// expiry without dropping the resource_version token (spec.md §4.5.3).
const watchTimeout = 5 * time.Minute

// Config configures the adapter, sourced from KUBECONFIG,
// KUBERNETES_NAMESPACE, KUBERNETES_IN_CLUSTER, KUBERNETES_WATCH_SERVICES
// and the generic *_LABEL_KEY/*_LABEL_VALUE env vars (spec.md §6).
type Config struct {
	Kubeconfig    string
	InCluster     bool
	Namespace     string
	LabelKey      string
	LabelValue    string
	WatchServices bool
	Registrar     string
}

// Adapter implements runtime.Adapter against a Kubernetes-compatible API
// server.
type Adapter struct {
	cfg Config
	cs  kubernetes.Interface

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, stopCh: make(chan struct{})}
}

// Connect authenticates via in-cluster credentials when requested or
// available, falling back to a kubeconfig file (spec.md §4.5.3's
// "auto-falls-back if unspecified").
func (a *Adapter) Connect(ctx context.Context) error {
	restCfg, err := a.restConfig()
	if err != nil {
		return discoveryerr.RuntimeConnect("kubernetes", err)
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return discoveryerr.RuntimeConnect("kubernetes", err)
	}
	if _, err := cs.Discovery().ServerVersion(); err != nil {
		return discoveryerr.RuntimeConnect("kubernetes", err)
	}

	a.cs = cs
	return nil
}

func (a *Adapter) restConfig() (*rest.Config, error) {
	if a.cfg.InCluster {
		return rest.InClusterConfig()
	}
	if a.cfg.Kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", a.cfg.Kubeconfig)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
}

func (a *Adapter) labelSelector() string {
	if a.cfg.LabelKey == "" {
		return ""
	}
	return fmt.Sprintf("%s=%s", a.cfg.LabelKey, a.cfg.LabelValue)
}

func (a *Adapter) ListWorkloads(ctx context.Context) ([]*workload.Workload, error) {
	opts := metav1.ListOptions{LabelSelector: a.labelSelector()}

	pods, err := a.cs.CoreV1().Pods(a.cfg.Namespace).List(ctx, opts)
	if err != nil {
		return nil, discoveryerr.RuntimeStream("kubernetes", err)
	}

	netpols, err := a.cs.NetworkingV1().NetworkPolicies(a.cfg.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		zlog.Error().Err(err).Msg("listing network policies failed, annotation omitted")
		netpols = &networkingv1.NetworkPolicyList{}
	}

	out := make([]*workload.Workload, 0, len(pods.Items))
	for i := range pods.Items {
		p := &pods.Items[i]
		if p.Status.Phase != corev1.PodRunning {
			continue
		}
		out = append(out, podToWorkload(p, netpols.Items, a.cfg.Registrar))
	}

	if a.cfg.WatchServices {
		svcs, err := a.cs.CoreV1().Services(a.cfg.Namespace).List(ctx, opts)
		if err != nil {
			return nil, discoveryerr.RuntimeStream("kubernetes", err)
		}
		for i := range svcs.Items {
			out = append(out, serviceToWorkload(&svcs.Items[i], a.cfg.Registrar))
		}
	}

	return out, nil
}

// podToWorkload maps a Pod per spec.md §4.5.3: addresses are
// "{pod_ip}:{port}" for each declared container port, falling back to
// the bare pod ip if no ports are declared.
func podToWorkload(p *corev1.Pod, netpols []networkingv1.NetworkPolicy, registrar string) *workload.Workload {
	var addresses []string
	if p.Status.PodIP != "" {
		for _, c := range p.Spec.Containers {
			for _, cp := range c.Ports {
				addresses = append(addresses, fmt.Sprintf("%s:%d", p.Status.PodIP, cp.ContainerPort))
			}
		}
		if len(addresses) == 0 {
			addresses = []string{p.Status.PodIP}
		}
	}

	annotations := map[string]string{}
	if names := matchingPolicyNames(p, netpols); len(names) > 0 {
		annotations["network_policies"] = strings.Join(names, ",")
	}

	return &workload.Workload{
		ID:              string(p.UID),
		Name:            p.Name,
		Hostname:        p.Spec.Hostname,
		Runtime:         workload.RuntimeKubernetes,
		WorkloadType:    workload.TypePod,
		Node:            p.Spec.NodeName,
		Namespace:       p.Namespace,
		Addresses:       addresses,
		IsolationGroups: []string{p.Namespace},
		Labels:          p.Labels,
		Annotations:     annotations,
		Registrar:       registrar,
	}
}

// matchingPolicyNames summarizes, informationally only, the
// NetworkPolicies whose pod selector matches p.
func matchingPolicyNames(p *corev1.Pod, netpols []networkingv1.NetworkPolicy) []string {
	var names []string
	for _, np := range netpols {
		if np.Namespace != p.Namespace {
			continue
		}
		sel, err := metav1.LabelSelectorAsSelector(&np.Spec.PodSelector)
		if err != nil {
			continue
		}
		if sel.Matches(labels.Set(p.Labels)) {
			names = append(names, np.Name)
		}
	}
	return names
}

// serviceToWorkload maps a Service per spec.md §4.5.3.
func serviceToWorkload(s *corev1.Service, registrar string) *workload.Workload {
	var addresses []string
	headless := s.Spec.ClusterIP == corev1.ClusterIPNone

	for _, port := range s.Spec.Ports {
		if !headless && s.Spec.ClusterIP != "" {
			addresses = append(addresses, fmt.Sprintf("%s:%d", s.Spec.ClusterIP, port.Port))
		}
		addresses = append(addresses, fmt.Sprintf("%s.%s.svc.cluster.local:%d", s.Name, s.Namespace, port.Port))
	}

	return &workload.Workload{
		ID:              string(s.UID),
		Name:            s.Name,
		Runtime:         workload.RuntimeKubernetes,
		WorkloadType:    workload.TypeService,
		Namespace:       s.Namespace,
		Addresses:       addresses,
		IsolationGroups: []string{s.Namespace},
		Labels:          s.Labels,
		Registrar:       registrar,
	}
}

func (a *Adapter) Events(ctx context.Context) (<-chan runtime.Event, <-chan error) {
	out := make(chan runtime.Event)
	errs := make(chan error, 1)

	go a.watchKind(ctx, "pods", out, errs)
	if a.cfg.WatchServices {
		go a.watchKind(ctx, "services", out, errs)
	}

	return out, errs
}

// watchKind runs the DISCONNECTED/WATCHING loop for one resource kind,
// resuming from resourceVersion and reopening on expiry (spec.md §4.5.3):
// 410 Gone clears the token and restarts immediately; any other error
// backs off at least 5s before restarting.
func (a *Adapter) watchKind(ctx context.Context, kind string, out chan<- runtime.Event, errs chan<- error) {
	resourceVersion := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		w, err := a.startWatch(ctx, kind, resourceVersion)
		if err != nil {
			zlog.Error().Err(err).Str("kind", kind).Msg("watch start failed")
			select {
			case errs <- discoveryerr.RuntimeStream("kubernetes", err):
			default:
			}
			a.sleep(ctx, 5*time.Second)
			continue
		}

		nextVersion, expired := a.drainWatch(ctx, w, kind, out)
		w.Stop()

		if expired {
			resourceVersion = ""
			continue
		}
		resourceVersion = nextVersion
		a.sleep(ctx, 5*time.Second)
	}
}

func (a *Adapter) startWatch(ctx context.Context, kind, resourceVersion string) (watch.Interface, error) {
	timeout := int64(watchTimeout.Seconds())
	opts := metav1.ListOptions{
		LabelSelector:   a.labelSelector(),
		ResourceVersion: resourceVersion,
		TimeoutSeconds:  &timeout,
	}

	switch kind {
	case "pods":
		return a.cs.CoreV1().Pods(a.cfg.Namespace).Watch(ctx, opts)
	case "services":
		return a.cs.CoreV1().Services(a.cfg.Namespace).Watch(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown watch kind %q", kind)
	}
}

// drainWatch consumes one watch.Interface until it closes (timeout
// expiry or server-initiated stop), translating events per spec.md
// §4.5.3's phase-transition table. Returns the resume token to use next
// and whether the stream ended via 410 Gone.
func (a *Adapter) drainWatch(ctx context.Context, w watch.Interface, kind string, out chan<- runtime.Event) (resourceVersion string, expired bool) {
	for {
		select {
		case <-ctx.Done():
			return resourceVersion, false
		case <-a.stopCh:
			return resourceVersion, false
		case ev, ok := <-w.ResultChan():
			if !ok {
				return resourceVersion, false
			}

			if ev.Type == watch.Error {
				if status, ok := ev.Object.(*metav1.Status); ok && apierrors.IsResourceExpired(&apierrors.StatusError{ErrStatus: *status}) {
					return "", true
				}
				return resourceVersion, false
			}

			rv, wl := a.translate(kind, ev)
			if rv != "" {
				resourceVersion = rv
			}
			if wl != nil {
				out <- *wl
			}
		}
	}
}

func (a *Adapter) translate(kind string, ev watch.Event) (resourceVersion string, out *runtime.Event) {
	switch kind {
	case "pods":
		p, ok := ev.Object.(*corev1.Pod)
		if !ok {
			return "", nil
		}
		return p.ResourceVersion, translatePodEvent(ev.Type, p, a.cfg.Registrar)
	case "services":
		s, ok := ev.Object.(*corev1.Service)
		if !ok {
			return "", nil
		}
		return s.ResourceVersion, translateServiceEvent(ev.Type, s, a.cfg.Registrar)
	default:
		return "", nil
	}
}

func translatePodEvent(t watch.EventType, p *corev1.Pod, registrar string) *runtime.Event {
	w := podToWorkload(p, nil, registrar)
	switch t {
	case watch.Added:
		if p.Status.Phase != corev1.PodRunning {
			return nil
		}
		return &runtime.Event{Type: runtime.EventAdded, Workload: w}
	case watch.Modified:
		switch p.Status.Phase {
		case corev1.PodRunning:
			return &runtime.Event{Type: runtime.EventModified, Workload: w}
		case corev1.PodSucceeded, corev1.PodFailed:
			return &runtime.Event{Type: runtime.EventDeleted, Workload: w}
		default:
			return nil
		}
	case watch.Deleted:
		return &runtime.Event{Type: runtime.EventDeleted, Workload: w}
	default:
		return nil
	}
}

func translateServiceEvent(t watch.EventType, s *corev1.Service, registrar string) *runtime.Event {
	w := serviceToWorkload(s, registrar)
	switch t {
	case watch.Added:
		return &runtime.Event{Type: runtime.EventAdded, Workload: w}
	case watch.Modified:
		return &runtime.Event{Type: runtime.EventModified, Workload: w}
	case watch.Deleted:
		return &runtime.Event{Type: runtime.EventDeleted, Workload: w}
	default:
		return nil
	}
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-a.stopCh:
	}
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.stopCh)
	return nil
}
