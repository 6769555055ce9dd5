package repository

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// DefaultShortLinkHost serves bare repository tokens.
const DefaultShortLinkHost = "https://cutt.ly"

var (
	absoluteURLPattern  = regexp.MustCompile(`^https?://`)
	customSchemePattern = regexp.MustCompile(`^(cloudstreamrepo://|https://cs\.repo/\??)`)
	shortLinkPattern    = regexp.MustCompile(`^[a-zA-Z0-9!_-]+$`)
)

// Resolver turns user-supplied repository references into manifest URLs.
type Resolver struct {
	client        *http.Client
	shortLinkHost string
	log           *zap.Logger
}

// NewResolver creates a resolver. The given client is copied and its
// redirect policy replaced so short links can be read from Location.
func NewResolver(client *http.Client, shortLinkHost string, log *zap.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if shortLinkHost == "" {
		shortLinkHost = DefaultShortLinkHost
	}
	return &Resolver{
		client:        &noRedirect,
		shortLinkHost: strings.TrimSuffix(shortLinkHost, "/"),
		log:           log.With(zap.String("component", "repository")),
	}
}

// Resolve returns the canonical manifest URL for input. Short links are
// followed exactly once.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	ref := strings.TrimSpace(input)
	switch {
	case absoluteURLPattern.MatchString(ref):
		return ref, nil
	case customSchemePattern.MatchString(ref):
		stripped := customSchemePattern.ReplaceAllString(ref, "")
		if !absoluteURLPattern.MatchString(stripped) {
			stripped = "https://" + stripped
		}
		return stripped, nil
	case shortLinkPattern.MatchString(ref):
		return r.resolveShortLink(ctx, ref)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedReference, input)
	}
}

func (r *Resolver) resolveShortLink(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.shortLinkHost+"/"+token, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build short link request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("short link lookup failed", zap.String("token", token), zap.Error(err))
		return "", fmt.Errorf("failed to resolve short link %s: %w", token, err)
	}
	resp.Body.Close()

	target := resp.Header.Get("Location")
	switch {
	case target == "":
		return "", fmt.Errorf("%w: %s has no redirect", ErrShortLinkNotFound, token)
	case strings.HasPrefix(target, r.shortLinkHost+"/404"):
		return "", fmt.Errorf("%w: %s", ErrShortLinkNotFound, token)
	case strings.TrimSuffix(target, "/") == r.shortLinkHost:
		return "", fmt.Errorf("%w: %s redirects to the service root", ErrShortLinkNotFound, token)
	}
	return target, nil
}
