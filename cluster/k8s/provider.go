package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
)

// Compile-time check that Provider implements cluster.Store.
var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeaseName        = "conductor-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=conductor"
	defaultAnnotationPrefix = "conductor.xraph.com/"

	annotationWorker   = "worker"
	annotationLastSeen = "last-seen"
)

// Provider implements cluster.Store on Kubernetes primitives: worker
// records live as annotations on each process's Pod, and the scheduler
// leader holds a coordination/v1 Lease.
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider for namespace.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Worker registry (Pod annotations)
// ──────────────────────────────────────────────────

// RegisterWorker writes w onto the Pod named by its Hostname.
func (p *Provider) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("conductor/k8s: encode worker: %w", err)
	}
	err = p.updatePod(ctx, w.Hostname, func(pod *corev1.Pod) {
		if pod.Annotations == nil {
			pod.Annotations = make(map[string]string)
		}
		pod.Annotations[p.annotationPrefix+annotationWorker] = string(raw)
		pod.Annotations[p.annotationPrefix+annotationLastSeen] = formatTime(w.LastSeen)
	})
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("conductor/k8s: pod %q: %w", w.Hostname, conductor.ErrWorkerNotFound)
	}
	if err != nil {
		return fmt.Errorf("conductor/k8s: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes the worker annotations from its Pod.
func (p *Provider) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	pod, err := p.podOf(ctx, workerID)
	if err != nil {
		return err
	}
	err = p.updatePod(ctx, pod.Name, func(pod *corev1.Pod) {
		delete(pod.Annotations, p.annotationPrefix+annotationWorker)
		delete(pod.Annotations, p.annotationPrefix+annotationLastSeen)
	})
	if err != nil {
		return fmt.Errorf("conductor/k8s: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker stamps the last-seen annotation on the worker's Pod.
func (p *Provider) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	pod, err := p.podOf(ctx, workerID)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())
	err = p.updatePod(ctx, pod.Name, func(pod *corev1.Pod) {
		pod.Annotations[p.annotationPrefix+annotationLastSeen] = now
	})
	if err != nil {
		return fmt.Errorf("conductor/k8s: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns the workers registered on Pods matching the label
// selector. Pods without a readable worker annotation are skipped.
func (p *Provider) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("conductor/k8s: list pods: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(pods.Items))
	for i := range pods.Items {
		w, ok := p.workerFromPod(&pods.Items[i])
		if ok {
			workers = append(workers, w)
		}
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen annotation is older than
// threshold.
func (p *Provider) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	all, err := p.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range all {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// AcquireLeadership takes the Lease when it is absent, expired or already
// held by workerID. Losing a write race to another candidate reports false.
func (p *Provider) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	holder := workerID.String()
	leases := p.client.CoordinationV1().Leases(p.namespace)

	lease, err := leases.Get(ctx, p.leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		now := metav1.NewMicroTime(time.Now().UTC())
		fresh := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: p.leaseName, Namespace: p.namespace},
		}
		setHolder(fresh, holder, ttl, now, true)
		_, err = leases.Create(ctx, fresh, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("conductor/k8s: create lease: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("conductor/k8s: get lease: %w", err)
	}

	current := holderOf(lease)
	if current != "" && current != holder && !expired(lease) {
		return false, nil
	}
	setHolder(lease, holder, ttl, metav1.NewMicroTime(time.Now().UTC()), current != holder)
	return p.writeLease(ctx, lease)
}

// RenewLeadership extends the Lease while workerID holds it unexpired.
func (p *Provider) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	holder := workerID.String()
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conductor/k8s: get lease: %w", err)
	}
	if holderOf(lease) != holder || expired(lease) {
		return false, nil
	}
	setHolder(lease, holder, ttl, metav1.NewMicroTime(time.Now().UTC()), false)
	return p.writeLease(ctx, lease)
}

// GetLeader returns the worker holding an unexpired Lease, or nil. A
// holder whose Pod record is gone is returned with its ID only.
func (p *Provider) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/k8s: get lease: %w", err)
	}
	holder := holderOf(lease)
	if holder == "" || expired(lease) {
		return nil, nil
	}
	workerID, err := id.ParseWorkerID(holder)
	if err != nil {
		return nil, fmt.Errorf("conductor/k8s: lease holder: %w", err)
	}

	until := lease.Spec.RenewTime.Add(leaseDuration(lease)).UTC()
	w := &cluster.Worker{ID: workerID}
	if pod, perr := p.podOf(ctx, workerID); perr == nil {
		if rec, ok := p.workerFromPod(pod); ok {
			w = rec
		}
	} else if !errors.Is(perr, conductor.ErrWorkerNotFound) {
		p.logger.Warn("leader pod lookup failed",
			slog.String("worker_id", holder),
			slog.String("error", perr.Error()),
		)
	}
	w.IsLeader = true
	w.LeaderUntil = &until
	return w, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// updatePod applies mutate to the named Pod, retrying on write conflicts.
func (p *Provider) updatePod(ctx context.Context, name string, mutate func(*corev1.Pod)) error {
	pods := p.client.CoreV1().Pods(p.namespace)
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		pod, err := pods.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		mutate(pod)
		_, err = pods.Update(ctx, pod, metav1.UpdateOptions{})
		return err
	})
}

// podOf finds the Pod carrying workerID's record.
func (p *Provider) podOf(ctx context.Context, workerID id.WorkerID) (*corev1.Pod, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("conductor/k8s: list pods: %w", err)
	}
	for i := range pods.Items {
		if w, ok := p.workerFromPod(&pods.Items[i]); ok && w.ID == workerID {
			return &pods.Items[i], nil
		}
	}
	return nil, conductor.ErrWorkerNotFound
}

// workerFromPod decodes the worker annotation, taking LastSeen from the
// heartbeat annotation.
func (p *Provider) workerFromPod(pod *corev1.Pod) (*cluster.Worker, bool) {
	raw := pod.Annotations[p.annotationPrefix+annotationWorker]
	if raw == "" {
		return nil, false
	}
	var w cluster.Worker
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		p.logger.Warn("skipping pod with unreadable worker record",
			slog.String("pod", pod.Name),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if seen, err := time.Parse(time.RFC3339Nano, pod.Annotations[p.annotationPrefix+annotationLastSeen]); err == nil {
		w.LastSeen = seen
	}
	return &w, true
}

// writeLease updates the Lease. The update carries the resourceVersion
// that was read, so a concurrent writer turns it into a conflict.
func (p *Provider) writeLease(ctx context.Context, lease *coordinationv1.Lease) (bool, error) {
	_, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if apierrors.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conductor/k8s: update lease: %w", err)
	}
	return true, nil
}

func setHolder(lease *coordinationv1.Lease, holder string, ttl time.Duration, now metav1.MicroTime, acquired bool) {
	seconds := int32(ttl.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease.Spec.HolderIdentity = &holder
	lease.Spec.LeaseDurationSeconds = &seconds
	lease.Spec.RenewTime = &now
	if acquired {
		lease.Spec.AcquireTime = &now
		transitions := int32(1)
		if lease.Spec.LeaseTransitions != nil {
			transitions = *lease.Spec.LeaseTransitions + 1
		}
		lease.Spec.LeaseTransitions = &transitions
	}
}

func holderOf(lease *coordinationv1.Lease) string {
	if lease.Spec.HolderIdentity == nil {
		return ""
	}
	return *lease.Spec.HolderIdentity
}

func leaseDuration(lease *coordinationv1.Lease) time.Duration {
	if lease.Spec.LeaseDurationSeconds == nil {
		return 0
	}
	return time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
}

func expired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil {
		return true
	}
	return time.Now().After(lease.Spec.RenewTime.Add(leaseDuration(lease)))
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
