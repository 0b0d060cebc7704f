package deletion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

// downstreamResources maps each downstream step to its gateway path segment.
var downstreamResources = map[postgres.DeletionResource]string{
	postgres.ResourceDatasets:      "dataset",
	postgres.ResourceLayers:        "layer",
	postgres.ResourceWidgets:       "widget",
	postgres.ResourceUserData:      "user-data",
	postgres.ResourceCollections:   "collection",
	postgres.ResourceFavourites:    "favourite",
	postgres.ResourceAreas:         "area",
	postgres.ResourceStories:       "story",
	postgres.ResourceSubscriptions: "subscriptions",
	postgres.ResourceDashboards:    "dashboard",
	postgres.ResourceProfiles:      "profile",
	postgres.ResourceTopics:        "topic",
}

// TokenSource supplies the bearer token for outbound calls.
type TokenSource func() (string, error)

// HTTPDeleter calls DELETE {gateway}/v1/{path}/by-user/{userId}.
type HTTPDeleter struct {
	resource   postgres.DeletionResource
	path       string
	gatewayURL string
	client     *http.Client
	token      TokenSource
}

func (d *HTTPDeleter) Resource() postgres.DeletionResource { return d.resource }

// DeleteByUser treats 404 as success: the user owned nothing there.
func (d *HTTPDeleter) DeleteByUser(ctx context.Context, userID string) error {
	bearer, err := d.token()
	if err != nil {
		return fmt.Errorf("mint service token: %w", err)
	}
	url := fmt.Sprintf("%s/v1/%s/by-user/%s", d.gatewayURL, d.path, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", d.resource, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("delete %s: unexpected status %d", d.resource, resp.StatusCode)
}

// HTTPDeleters returns one deleter per downstream resource.
func HTTPDeleters(gatewayURL string, client *http.Client, token TokenSource) []ResourceDeleter {
	gatewayURL = strings.TrimRight(gatewayURL, "/")
	out := make([]ResourceDeleter, 0, len(downstreamResources))
	for _, resource := range postgres.DeletionResources() {
		path, ok := downstreamResources[resource]
		if !ok {
			continue
		}
		out = append(out, &HTTPDeleter{
			resource:   resource,
			path:       path,
			gatewayURL: gatewayURL,
			client:     client,
			token:      token,
		})
	}
	return out
}
