package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// maxCatalogSize caps how many registry tags the catalog offers.
const maxCatalogSize = 8

// VersionCatalog lists the image versions offered to clients. When a
// registry tags URL is configured the catalog is fetched live; any
// failure degrades to the static fallback list.
type VersionCatalog struct {
	tagsURL  string
	fallback []string
	client   *http.Client
}

// NewVersionCatalog builds a catalog. An empty tagsURL disables the
// registry lookup entirely.
func NewVersionCatalog(tagsURL string, fallback []string) *VersionCatalog {
	if len(fallback) == 0 {
		fallback = []string{"latest"}
	}
	return &VersionCatalog{
		tagsURL:  tagsURL,
		fallback: fallback,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// List returns the offered versions, newest first. It never fails;
// registry errors fall back to the static list.
func (vc *VersionCatalog) List(ctx context.Context) []string {
	if vc.tagsURL == "" {
		return vc.fallback
	}
	tags, err := vc.fetch(ctx)
	if err != nil || len(tags) == 0 {
		return vc.fallback
	}
	return tags
}

func (vc *VersionCatalog) fetch(ctx context.Context) ([]string, error) {
	url := vc.tagsURL + "?page_size=20&ordering=last_updated"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var tags []string
	for _, tag := range payload.Results {
		if !stableTag(tag.Name) || seen[tag.Name] {
			continue
		}
		seen[tag.Name] = true
		tags = append(tags, tag.Name)
		if len(tags) >= maxCatalogSize {
			break
		}
	}
	return tags, nil
}

// stableTag keeps plain numeric releases and drops beta, rc, and
// next builds.
func stableTag(name string) bool {
	if name == "" || name[0] < '0' || name[0] > '9' {
		return false
	}
	return !strings.Contains(name, "-")
}
