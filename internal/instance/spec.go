package instance

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Config describes how tenant containers are built. All values come
// from configuration; none are hardcoded at call sites.
type Config struct {
	// Image is the application image repository, without tag.
	Image string

	// BaseDomain is the parent domain; each tenant gets
	// <tenant>.<BaseDomain>.
	BaseDomain string

	// SSLEnabled selects https routing and the TLS cert resolver.
	SSLEnabled bool

	// CertResolver is the Traefik certificate resolver name.
	CertResolver string

	// Network is the shared Docker network all instances join.
	Network string

	// Port is the application's internal listen port.
	Port int

	// DataDir is the in-container path of the tenant data volume.
	DataDir string

	// Timezone is passed to each instance as TZ.
	Timezone string

	// MemoryLimitMB is the hard per-instance memory ceiling.
	MemoryLimitMB int64

	// MemoryReservationMB is the soft limit Docker reclaims toward
	// under host memory pressure.
	MemoryReservationMB int64

	// CPUShares is the relative CPU weight (Docker default 1024).
	// There is no hard CPU cap.
	CPUShares int64

	// PerInstanceMB is the planning cost of one instance in the
	// capacity model. Zero means "use MemoryLimitMB".
	PerInstanceMB int64
}

// planningCost returns the memory cost capacity math charges per
// instance.
func (c Config) planningCost() int64 {
	if c.PerInstanceMB > 0 {
		return c.PerInstanceMB
	}
	return c.MemoryLimitMB
}

// Protocol returns the external scheme for instance URLs.
func (c Config) Protocol() string {
	if c.SSLEnabled {
		return "https"
	}
	return "http"
}

// Host returns the tenant's fully qualified hostname.
func (c Config) Host(tenant string) string {
	return tenant + "." + c.BaseDomain
}

// URL returns the tenant's public URL behind the reverse proxy.
func (c Config) URL(tenant string) string {
	return c.Protocol() + "://" + c.Host(tenant)
}

// GenerateEncryptionKey returns a fresh 256-bit hex key.
func GenerateEncryptionKey() string {
	buf := make([]byte, 32)
	// rand.Read only fails when the OS entropy source is broken, at
	// which point nothing else works either.
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// env builds the instance environment. The encryption key persists on
// the container's declared environment so recreates can recover it.
func (c Config) env(tenant, encryptionKey string) []string {
	return []string{
		"TZ=" + c.Timezone,
		"APP_HOST=0.0.0.0",
		"APP_PORT=" + strconv.Itoa(c.Port),
		"APP_URL=" + c.URL(tenant) + "/",
		EnvEncryptionKey + "=" + encryptionKey,
	}
}

// labels builds the Traefik routing labels plus the management labels
// the reaper and status queries read.
func (c Config) labels(tenant string, createdAt time.Time) map[string]string {
	router := "roost-" + tenant
	labels := map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", router):                      fmt.Sprintf("Host(`%s`)", c.Host(tenant)),
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", router): strconv.Itoa(c.Port),
		LabelManaged:   "true",
		LabelTenant:    tenant,
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	if c.SSLEnabled {
		labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", router)] = "websecure"
		labels[fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", router)] = c.CertResolver
	} else {
		labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", router)] = "web"
	}
	return labels
}
