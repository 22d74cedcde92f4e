package main

import (
	"context"
	"fmt"

	"github.com/cuemby/ids2agent/pkg/bringup"
)

// defaultResolver is the out-of-the-box bringup.CredentialResolver: it
// validates that a credential profile and domain are configured and
// derives the bulk-ingest endpoint from the domain. Concrete credential
// exchange and cluster-metadata lookup are deployment-specific (spec.md
// §4.4 treats the cluster probe's transport as opaque behind
// pkg/cluster.Client for the same reason) — this default gives phase A a
// working, if minimal, implementation rather than leaving it unset.
func defaultResolver(ctx context.Context, profile, region, domain string) (string, error) {
	if profile == "" {
		return "", fmt.Errorf("credential_profile is not configured")
	}
	if domain == "" {
		return "", fmt.Errorf("cluster domain is not configured")
	}
	return fmt.Sprintf("https://%s:9200", domain), nil
}

var _ bringup.CredentialResolver = defaultResolver
