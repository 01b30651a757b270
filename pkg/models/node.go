package models

import "time"

// NodeConfig describes one search node as given in configuration. Either URL
// or the Protocol/Host/Port triple must be set.
type NodeConfig struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
}

// NodeStatus is a point-in-time view of a node's health.
type NodeStatus struct {
	URL        string    `json:"url"`
	Nearest    bool      `json:"nearest"`
	Healthy    bool      `json:"healthy"`
	LastAccess time.Time `json:"last_access,omitempty"`
}
