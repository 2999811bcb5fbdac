package gke

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	container "google.golang.org/api/container/v1"
	"google.golang.org/api/option"
	k8sClient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/mozilla/leanplum-tasks/internal/gcp"
)

// ClusterName returns the fully qualified name of the cluster an operator targets.
func ClusterName(op *PodOperator) string {
	return fmt.Sprintf("projects/%s/locations/%s/clusters/%s",
		op.ProjectID, op.Location, op.ClusterName)
}

// restConfig builds a client config for a GKE cluster that authenticates with tokens from ts.
func restConfig(cluster *container.Cluster, ts oauth2.TokenSource) (*rest.Config, error) {
	if cluster.Endpoint == "" {
		return nil, errors.Errorf("cluster %s has no endpoint", cluster.Name)
	}
	if cluster.MasterAuth == nil {
		return nil, errors.Errorf("cluster %s has no master auth", cluster.Name)
	}
	ca, err := base64.StdEncoding.DecodeString(cluster.MasterAuth.ClusterCaCertificate)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding CA certificate of cluster %s", cluster.Name)
	}

	return &rest.Config{
		Host: "https://" + cluster.Endpoint,
		TLSClientConfig: rest.TLSClientConfig{
			CAData: ca,
		},
		WrapTransport: func(rt http.RoundTripper) http.RoundTripper {
			return &oauth2.Transport{Source: ts, Base: rt}
		},
	}, nil
}

// GKEClientSetFactory returns a ClientSetFactory that looks up the operator's cluster in the
// GKE API with the credentials of the operator's connection.
func GKEClientSetFactory(creds gcp.CredentialsProvider) ClientSetFactory {
	return func(ctx context.Context, op *PodOperator) (k8sClient.Interface, error) {
		c, err := creds.Credentials(ctx, op.GCPConnID)
		if err != nil {
			return nil, err
		}

		svc, err := container.NewService(ctx, option.WithCredentials(c))
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize GKE client")
		}
		cluster, err := svc.Projects.Locations.Clusters.Get(ClusterName(op)).Context(ctx).Do()
		if err != nil {
			return nil, errors.Wrapf(err, "fetching cluster %s", ClusterName(op))
		}

		config, err := restConfig(cluster, c.TokenSource)
		if err != nil {
			return nil, err
		}
		clientSet, err := k8sClient.NewForConfig(config)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize kubernetes clientSet")
		}
		return clientSet, nil
	}
}
