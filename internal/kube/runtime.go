package kube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/jveski/workspaced/common"
	"github.com/jveski/workspaced/internal/config"
)

// NewClientset loads the kubeconfig the same way kubectl does.
// Empty arguments fall back to the default loading rules and current context.
func NewClientset(kubeconfig, kubeContext string) (kubernetes.Interface, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.ExplicitPath = kubeconfig
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	return clientset, nil
}

type eventKey struct {
	Pod, Name, First, Last string
}

// seenTTL is how long reported events are remembered. The API server drops events after an hour
// by default, so a restarted watch can't replay anything older.
const seenTTL = time.Hour

// Runtime runs each workspace as one pod.
type Runtime struct {
	client    kubernetes.Interface
	namespace string
	claim     string

	lock            sync.Mutex
	resourceVersion string
	seen            map[eventKey]time.Time
	lastPrune       time.Time
	now             func() time.Time
}

func NewRuntime(client kubernetes.Interface, cfg config.KubernetesConfig) *Runtime {
	return &Runtime{
		client:    client,
		namespace: cfg.Namespace,
		claim:     cfg.ClaimName,
		seen:      map[eventKey]time.Time{},
		now:       time.Now,
	}
}

func (r *Runtime) Create(ctx context.Context, env *common.Environment, id common.RuntimeIdentity) error {
	pod, err := Pod(env, id, r.claim)
	if err != nil {
		return err
	}

	_, err = r.client.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("creating pod %q: %w", pod.Name, err)
	}
	log.Printf("created pod %q with %d container(s)", pod.Name, len(pod.Spec.Containers))
	return nil
}

func (r *Runtime) Remove(ctx context.Context, id common.RuntimeIdentity) error {
	name := id.PodName()
	err := r.client.CoreV1().Pods(r.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting pod %q: %w", name, err)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	for key := range r.seen {
		if key.Pod == name {
			delete(r.seen, key)
		}
	}
	return nil
}

func (r *Runtime) OpenLogs(ctx context.Context, pod, container string) (io.ReadCloser, error) {
	return r.client.CoreV1().Pods(r.namespace).GetLogs(pod, &corev1.PodLogOptions{
		Container: container,
		Follow:    true,
	}).Stream(ctx)
}

// WatchEvents reports pod events until ctx is done or the watch fails.
// Reconnects resume from the last resource version, and events that were already
// reported are skipped if the watch has to start over.
func (r *Runtime) WatchEvents(ctx context.Context, fn func(common.PodEvent)) error {
	r.lock.Lock()
	opts := metav1.ListOptions{
		FieldSelector:   "involvedObject.kind=Pod",
		ResourceVersion: r.resourceVersion,
	}
	r.lock.Unlock()

	w, err := r.client.CoreV1().Events(r.namespace).Watch(ctx, opts)
	if err != nil {
		return fmt.Errorf("watching events: %w", err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return errors.New("event watch closed")
			}
			if ev.Type == watch.Error {
				err := apierrors.FromObject(ev.Object)
				if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
					r.lock.Lock()
					r.resourceVersion = ""
					r.lock.Unlock()
				}
				return fmt.Errorf("watching events: %w", err)
			}
			if ev.Type != watch.Added && ev.Type != watch.Modified {
				continue
			}

			event, ok := ev.Object.(*corev1.Event)
			if !ok {
				continue
			}
			if pe, ok := r.translate(event); ok {
				fn(pe)
			}
		}
	}
}

func (r *Runtime) translate(event *corev1.Event) (common.PodEvent, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.resourceVersion = event.ResourceVersion

	if event.InvolvedObject.Kind != "Pod" || !common.IsWorkspacePod(event.InvolvedObject.Name) {
		return common.PodEvent{}, false
	}

	pe := common.PodEvent{
		Pod:            event.InvolvedObject.Name,
		Container:      containerFromFieldPath(event.InvolvedObject.FieldPath),
		Reason:         event.Reason,
		Message:        event.Message,
		FirstTimestamp: formatTime(event.FirstTimestamp, event.EventTime),
		LastTimestamp:  formatTime(event.LastTimestamp, event.EventTime),
	}
	key := eventKey{Pod: pe.Pod, Name: event.Name, First: pe.FirstTimestamp, Last: pe.LastTimestamp}

	now := r.now()
	r.pruneUnlocked(now)
	if _, ok := r.seen[key]; ok {
		return pe, false
	}
	r.seen[key] = now
	return pe, true
}

// pruneUnlocked forgets events reported more than seenTTL ago, at most once a minute.
func (r *Runtime) pruneUnlocked(now time.Time) {
	if now.Sub(r.lastPrune) < time.Minute {
		return
	}
	r.lastPrune = now
	for key, reported := range r.seen {
		if now.Sub(reported) > seenTTL {
			delete(r.seen, key)
		}
	}
}

// containerFromFieldPath returns the container name of a field path like "spec.containers{name}".
func containerFromFieldPath(fieldPath string) string {
	for _, prefix := range []string{"spec.containers{", "spec.initContainers{"} {
		if rest, ok := strings.CutPrefix(fieldPath, prefix); ok {
			name, _, _ := strings.Cut(rest, "}")
			return name
		}
	}
	return ""
}

func formatTime(t metav1.Time, fallback metav1.MicroTime) string {
	if !t.IsZero() {
		return t.UTC().Format(time.RFC3339)
	}
	if !fallback.IsZero() {
		return fallback.UTC().Format(time.RFC3339Nano)
	}
	return ""
}
