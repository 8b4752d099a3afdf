package model

// Backend kind constants. The kind stored on a service record selects which
// orchestrator implementation owns it.
const (
	BackendSkyPilot = "skypilot"
	BackendLocal    = "local"
)

// Service status constants, derived from the Endpoint and Up fields.
const (
	StatusRegistered   = "registered"
	StatusProvisioning = "provisioning"
	StatusStarting     = "starting"
	StatusReady        = "ready"
)

// DefaultReadinessProbe is the URL path appended to a service's endpoint
// when checking health, unless the record overrides it.
const DefaultReadinessProbe = "/"

// Service is one tracked unit of remotely-provisioned compute. Records live
// in the shared cache keyed by Name; the dispatcher and every background
// poller mutate the same record under the cache lock.
type Service struct {
	Name           string      `json:"name"`
	Config         *UserConfig `json:"config,omitempty"`
	Backend        string      `json:"backend"`
	ConfigPath     string      `json:"config_path,omitempty"`
	ReadinessProbe string      `json:"readiness_probe"`
	Endpoint       *string     `json:"endpoint,omitempty"`
	Up             bool        `json:"up"`

	// Provisioning marks an in-flight up call between the moment it claims
	// the record and the moment the endpoint lands. It linearizes concurrent
	// up calls for the same name while the cache lock is released around the
	// subprocess. Never persisted.
	Provisioning bool `json:"-"`
}

// Status derives the lifecycle state from the record's fields.
func (s *Service) Status() string {
	switch {
	case s.Up:
		return StatusReady
	case s.Endpoint != nil:
		return StatusStarting
	case s.Provisioning:
		return StatusProvisioning
	default:
		return StatusRegistered
	}
}

// Down reports whether the service is fully down and eligible for removal.
func (s *Service) Down() bool {
	return !s.Up && s.Endpoint == nil
}
