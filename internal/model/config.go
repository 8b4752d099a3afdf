package model

import "gopkg.in/yaml.v3"

// UserConfig is the sparse override a caller may supply when registering a
// service. Only the fields present overwrite the defaults; nil fields leave
// the default untouched.
type UserConfig struct {
	Port         *uint16 `json:"port,omitempty" yaml:"port,omitempty"`
	Replicas     *uint16 `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	Cloud        *string `json:"cloud,omitempty" yaml:"cloud,omitempty"`
	Workdir      *string `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	DiskSize     *uint16 `json:"disk_size,omitempty" yaml:"disk_size,omitempty"`
	CPUs         *string `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Memory       *string `json:"memory,omitempty" yaml:"memory,omitempty"`
	Accelerators *string `json:"accelerators,omitempty" yaml:"accelerators,omitempty"`
	Setup        *string `json:"setup,omitempty" yaml:"setup,omitempty"`
	Run          *string `json:"run,omitempty" yaml:"run,omitempty"`
}

// Configuration is the fully resolved document sent to the external
// orchestrator after overlaying a UserConfig on the defaults.
type Configuration struct {
	Service   ServiceSpec  `json:"service" yaml:"service"`
	Resources ResourceSpec `json:"resources" yaml:"resources"`
	Workdir   string       `json:"workdir" yaml:"workdir"`
	Setup     string       `json:"setup" yaml:"setup"`
	Run       string       `json:"run" yaml:"run"`
}

// ServiceSpec is the service-level group of the configuration document.
type ServiceSpec struct {
	ReadinessProbe string `json:"readiness_probe" yaml:"readiness_probe"`
	Replicas       uint16 `json:"replicas" yaml:"replicas"`
}

// ResourceSpec is the resource-requirements group of the configuration
// document. Accelerators must be omitted entirely when unset; the external
// tool's schema rejects an explicit null.
type ResourceSpec struct {
	Ports        uint16  `json:"ports" yaml:"ports"`
	Cloud        string  `json:"cloud" yaml:"cloud"`
	CPUs         string  `json:"cpus" yaml:"cpus"`
	Memory       string  `json:"memory" yaml:"memory"`
	DiskSize     uint16  `json:"disk_size" yaml:"disk_size"`
	Accelerators *string `json:"accelerators,omitempty" yaml:"accelerators,omitempty"`
}

// DefaultConfiguration returns the fixed defaults a sparse override is
// merged onto.
func DefaultConfiguration() Configuration {
	return Configuration{
		Service: ServiceSpec{
			ReadinessProbe: "/health",
			Replicas:       2,
		},
		Resources: ResourceSpec{
			Ports:    8080,
			Cloud:    "aws",
			CPUs:     "4+",
			Memory:   "10+",
			DiskSize: 100,
		},
		Workdir: ".",
		Setup:   "conda install cudatoolkit -y\npip install poetry\npoetry install\n",
		Run:     "poetry run python service.py\n",
	}
}

// Merge overlays the fields present in the override onto c. It is pure with
// respect to the override and idempotent: merging the same override twice
// yields the same document as merging it once.
func (c *Configuration) Merge(override *UserConfig) {
	if override == nil {
		return
	}
	if override.Port != nil {
		c.Resources.Ports = *override.Port
	}
	if override.Replicas != nil {
		c.Service.Replicas = *override.Replicas
	}
	if override.Cloud != nil {
		c.Resources.Cloud = *override.Cloud
	}
	if override.Workdir != nil {
		c.Workdir = *override.Workdir
	}
	if override.DiskSize != nil {
		c.Resources.DiskSize = *override.DiskSize
	}
	if override.CPUs != nil {
		c.Resources.CPUs = *override.CPUs
	}
	if override.Memory != nil {
		c.Resources.Memory = *override.Memory
	}
	if override.Setup != nil {
		c.Setup = *override.Setup
	}
	if override.Run != nil {
		c.Run = *override.Run
	}
	if override.Accelerators != nil {
		acc := *override.Accelerators
		c.Resources.Accelerators = &acc
	}
}

// MarshalDocument serializes the configuration to the YAML document the
// external orchestrator consumes.
func (c *Configuration) MarshalDocument() ([]byte, error) {
	return yaml.Marshal(c)
}

// UnmarshalDocument parses a configuration document previously written by
// MarshalDocument.
func UnmarshalDocument(data []byte) (Configuration, error) {
	var c Configuration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}
