// Bedrock request signing - AWS SigV4 instead of a static header.
//
// Bedrock has no API key; requests are signed with the ambient AWS
// credential chain (env, shared config, IMDS).
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"
)

// BedrockSigner signs proxied requests destined for bedrock-runtime.
type BedrockSigner struct {
	region string
	creds  aws.CredentialsProvider
	signer *v4.Signer
}

// NewBedrockSigner loads the default AWS credential chain for the region.
// Returns an unconfigured signer (IsConfigured()==false) when no credentials
// resolve, so Bedrock support degrades to pass-through instead of failing
// gateway startup.
func NewBedrockSigner(ctx context.Context, region string) *BedrockSigner {
	s := &BedrockSigner{region: region, signer: v4.NewSigner()}
	if region == "" {
		return s
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Warn().Err(err).Msg("bedrock: failed to load AWS config, signing disabled")
		return s
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		log.Debug().Err(err).Msg("bedrock: no AWS credentials resolved, signing disabled")
		return s
	}
	s.creds = cfg.Credentials
	return s
}

// IsConfigured reports whether credentials resolved at startup.
func (s *BedrockSigner) IsConfigured() bool {
	return s != nil && s.creds != nil
}

// BuildTargetURL maps a /model/... path onto the regional runtime endpoint.
func (s *BedrockSigner) BuildTargetURL(path string) string {
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com%s", s.region, path)
}

// SignRequest attaches SigV4 headers for the bedrock service.
func (s *BedrockSigner) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	if !s.IsConfigured() {
		return fmt.Errorf("bedrock signer not configured")
	}

	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve AWS credentials: %w", err)
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	return s.signer.SignHTTP(ctx, creds, req, payloadHash, "bedrock", s.region, time.Now())
}
