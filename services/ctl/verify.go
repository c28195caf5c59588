package ctl

import (
	"context"
	"fmt"

	"trustd/pkg/signer"
	"trustd/services/registry"
)

// Verify fetches an artifact and checks its score signature against the
// publisher's Ed25519 key from AGE_PUBLIC_KEY or AGE_SECRET_KEY.
func Verify(ctx context.Context, c *Client, artifactID string) (registry.Artifact, error) {
	sig, err := signer.NewFromEnv()
	if err != nil {
		return registry.Artifact{}, fmt.Errorf("load verification key: %w", err)
	}

	resp, err := c.Artifact(ctx, artifactID)
	if err != nil {
		return registry.Artifact{}, err
	}
	if len(resp.Artifacts) == 0 {
		return registry.Artifact{}, fmt.Errorf("artifact %s not found", artifactID)
	}
	artifact := resp.Artifacts[0]

	if artifact.Signature == "" {
		return artifact, fmt.Errorf("artifact %s is unsigned", artifactID)
	}
	if err := sig.VerifyResult(artifact.ID, artifact.Score, artifact.Metrics, artifact.Signature); err != nil {
		return artifact, fmt.Errorf("signature check failed: %w", err)
	}
	return artifact, nil
}
