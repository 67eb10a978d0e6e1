// Package instance manages per-tenant application containers: derived
// names, routing labels, environment, resource limits, and the
// container operations built on them. The container runtime is the
// sole source of truth for which instances exist; nothing here keeps
// a separate registry.
package instance

import (
	"fmt"
	"regexp"
	"strings"
)

// Labels stamped on every managed container. The reverse proxy and
// the reaper both read these; they are the only channel between the
// core and the proxy process.
const (
	LabelManaged   = "roost.managed"
	LabelTenant    = "roost.tenant"
	LabelCreatedAt = "roost.created-at"
)

// EnvEncryptionKey is the per-tenant secret injected at creation. It
// is generated exactly once and recovered from the container's
// declared environment on every recreate, never regenerated.
const EnvEncryptionKey = "APP_ENCRYPTION_KEY"

var (
	validName    = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,30}[a-z0-9]$`)
	validVersion = regexp.MustCompile(`^(latest|\d+\.\d{1,3}\.\d{1,3})$`)
)

// ValidateName normalizes and validates a tenant name. Names become
// DNS labels (subdomain, container name), so the charset is strict.
func ValidateName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !validName.MatchString(name) {
		return "", fmt.Errorf("tenant name %q must be 2-32 lowercase letters, digits, or hyphens", name)
	}
	return name, nil
}

// ValidateVersion validates an image version tag.
func ValidateVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	if !validVersion.MatchString(version) {
		return "", fmt.Errorf("invalid version %q: use X.Y.Z or 'latest'", version)
	}
	return version, nil
}

// ContainerName derives the container name for a tenant.
func ContainerName(tenant string) string { return "roost-" + tenant }

// VolumeName derives the data volume name for a tenant.
func VolumeName(tenant string) string { return "roost-data-" + tenant }
