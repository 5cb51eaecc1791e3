// Target resolution, credential injection, and upstream forwarding.
//
// DESIGN: Two independent lookups with different privileges:
//   - resolveTarget() may use the override header or path patterns to pick a
//     destination URL
//   - injectCredential() only ever consults the *hostname* of the resolved
//     target; a path-shaped match must never leak a configured key to an
//     arbitrary host
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/trailguard/agent-gateway/internal/providers"
	"github.com/trailguard/agent-gateway/internal/utils"
)

// Proxy-internal request headers.
const (
	HeaderTargetURL = "X-Target-URL"
	HeaderAgentID   = "X-Agent-ID"
)

// errNoProvider maps to HTTP 400.
var errNoProvider = errors.New("no provider detected")

// hopHeaders are stripped before forwarding. Everything else passes through
// unchanged, including arbitrary client-custom headers.
var hopHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
	"content-length":    true, // recomputed from the forwarded body
}

// resolveTarget picks the upstream URL: the override header verbatim when
// present, otherwise auto-detection from the request path.
func (g *Gateway) resolveTarget(r *http.Request) (string, error) {
	if override := r.Header.Get(HeaderTargetURL); override != "" {
		return override, nil
	}

	path := r.URL.Path
	d := providers.DetectByPath(path)
	if d == nil {
		return "", errNoProvider
	}
	if d.Name == providers.Bedrock {
		if g.signer.IsConfigured() {
			return g.signer.BuildTargetURL(path), nil
		}
		return "", errNoProvider
	}

	target := d.BaseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target, nil
}

// targetProvider identifies the provider for a resolved target URL by its
// hostname. Returns nil for unrecognized hosts.
func targetProvider(target string) *providers.Descriptor {
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	return providers.DetectByHost(u.Hostname())
}

// buildUpstreamRequest clones the inbound request toward the target URL,
// stripping hop-by-hop and proxy-internal headers. GET/HEAD carry no body.
func (g *Gateway) buildUpstreamRequest(ctx context.Context, r *http.Request, target string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if hopHeaders[lower] || lower == strings.ToLower(HeaderTargetURL) || lower == strings.ToLower(HeaderAgentID) {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return req, nil
}

// injectCredential overwrites the auth header when a key is configured for
// the hostname-matched provider. Client-supplied credentials are replaced
// unconditionally; agents commonly send placeholder keys.
func (g *Gateway) injectCredential(ctx context.Context, req *http.Request, d *providers.Descriptor, body []byte) {
	if d == nil {
		return
	}

	if d.Name == providers.Bedrock {
		if err := g.signer.SignRequest(ctx, req, body); err != nil {
			log.Warn().Err(err).Msg("proxy: bedrock signing failed, forwarding unsigned")
		}
		return
	}

	key := g.config.Providers[d.Name.String()].APIKey
	if key == "" || d.AuthHeader == "" {
		return
	}
	req.Header.Set(d.AuthHeader, d.AuthScheme+key)
	log.Debug().
		Str("provider", d.Name.String()).
		Str("key", utils.MaskKey(key)).
		Msg("proxy: injected credential")
}

// forward sends the request upstream. Transport failures surface as errors;
// upstream HTTP error statuses are normal responses.
func (g *Gateway) forward(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}
