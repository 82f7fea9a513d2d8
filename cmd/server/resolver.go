package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"vigil/internal/abuse/bruteforce"
)

// newAccountResolver picks the username resolver at the composition
// root. When VIGIL_ACCOUNT_RESOLVER_URL is set, usernames are resolved
// against that endpoint so unknown accounts skip account-keyed state.
// Without it every non-empty username is treated as its own account id,
// which keeps single-tenant deployments working with zero config.
func newAccountResolver() bruteforce.AccountResolver {
	if resolverURL := os.Getenv("VIGIL_ACCOUNT_RESOLVER_URL"); resolverURL != "" {
		return &httpResolver{
			base:   resolverURL,
			client: &http.Client{Timeout: 3 * time.Second},
		}
	}
	return identityResolver{}
}

// identityResolver maps every username onto itself.
type identityResolver struct{}

func (identityResolver) ResolveUsername(_ context.Context, username string) (string, bool, error) {
	if username == "" {
		return "", false, nil
	}
	return username, true, nil
}

// httpResolver asks an external identity service whether the username
// names a real account. 404 means unknown; other failures are errors so
// the engine's fail mode decides.
type httpResolver struct {
	base   string
	client *http.Client
}

type resolveResponse struct {
	AccountID string `json:"account_id"`
}

func (r *httpResolver) ResolveUsername(ctx context.Context, username string) (string, bool, error) {
	if username == "" {
		return "", false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"?username="+url.QueryEscape(username), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body resolveResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", false, err
		}
		if body.AccountID == "" {
			return "", false, nil
		}
		return body.AccountID, true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("account resolver returned status %d", resp.StatusCode)
	}
}
