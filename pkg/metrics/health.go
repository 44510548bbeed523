package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the wire shape of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the last reported state of one component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// Registry aggregates component health reports. The control plane
// serves liveness from process state, health from every registered
// component and readiness from the critical subset only.
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewRegistry creates a registry whose readiness gates on the named
// critical components
func NewRegistry(critical ...string) *Registry {
	return &Registry{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
	}
}

// defaultRegistry serves the package-level helpers. Readiness waits for
// the store, the broker connection and the HTTP listener.
var defaultRegistry = NewRegistry("store", "broker", "api")

// SetVersion sets the version string reported by health responses
func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// SetComponent records the state of one component, registering it on
// first report
func (r *Registry) SetComponent(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Health reports overall health: unhealthy if any registered component
// is unhealthy
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)
	for name, comp := range r.components {
		if comp.Healthy {
			components[name] = "healthy"
		} else {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
	}
}

// Readiness reports whether every critical component is up. Components
// that have not reported yet count as not ready.
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	for _, name := range r.critical {
		comp, reported := r.components[name]
		switch {
		case !reported:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
	}
}

// HealthHandler serves the registry's health status, 503 when unhealthy
func (r *Registry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		health := r.Health()
		code := http.StatusOK
		if health.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler serves the registry's readiness status, 503 when not ready
func (r *Registry) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		readiness := r.Readiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LiveHandler always answers 200 while the process runs
func (r *Registry) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(r.startTime).String(),
		})
	}
}

func writeStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package-level helpers against the default registry

// SetVersion sets the version on the default registry
func SetVersion(version string) {
	defaultRegistry.SetVersion(version)
}

// SetComponent records component state on the default registry
func SetComponent(name string, healthy bool, message string) {
	defaultRegistry.SetComponent(name, healthy, message)
}

// HealthHandler serves health from the default registry
func HealthHandler() http.HandlerFunc {
	return defaultRegistry.HealthHandler()
}

// ReadyHandler serves readiness from the default registry
func ReadyHandler() http.HandlerFunc {
	return defaultRegistry.ReadyHandler()
}

// LiveHandler serves liveness from the default registry
func LiveHandler() http.HandlerFunc {
	return defaultRegistry.LiveHandler()
}
