package app

import (
	"fmt"
	"log/slog"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/cluster/k8s"
	"github.com/xraph/conductor/internal/config"
)

// NewClusterStore returns the Kubernetes cluster provider when configured.
// A nil store keeps membership and leadership in the task store.
func NewClusterStore(cfg config.Config, logger *slog.Logger) (cluster.Store, error) {
	if cfg.Cluster.Backend != config.ClusterKubernetes {
		return nil, nil
	}
	kc := cfg.Cluster.Kubernetes

	var (
		restCfg *rest.Config
		err     error
	)
	if kc.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kc.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes client config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}

	logger.Info("cluster state in kubernetes",
		slog.String("namespace", kc.Namespace),
		slog.String("lease", kc.LeaseName),
	)
	return k8s.New(client, kc.Namespace,
		k8s.WithLeaseName(kc.LeaseName),
		k8s.WithLabelSelector(kc.LabelSelector),
		k8s.WithLogger(logger.With(slog.String("component", "cluster"))),
	), nil
}
