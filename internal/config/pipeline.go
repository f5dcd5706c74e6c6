// Package config loads tuning parameters for the motion batch pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig holds the tunable parameters of the motion batch pipeline.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for everything else.
type PipelineConfig struct {
	// Ingest params
	UDPPort         *int    `json:"udp_port,omitempty"`
	UDPAddress      *string `json:"udp_address,omitempty"`
	ReceiveBuffer   *int    `json:"receive_buffer,omitempty"`
	LogInterval     *string `json:"log_interval,omitempty"` // duration string like "30s"
	BatchCapacity   *int    `json:"batch_capacity,omitempty"`
	RejectNonFinite *bool   `json:"reject_non_finite,omitempty"`

	// Forwarding params
	ForwardAddress *string `json:"forward_address,omitempty"`
	ForwardPort    *int    `json:"forward_port,omitempty"`

	// Publisher params
	GRPCListen *string `json:"grpc_listen,omitempty"`
	MaxClients *int    `json:"max_clients,omitempty"`

	// Storage params
	DatabasePath *string `json:"database_path,omitempty"`
	RecorderDir  *string `json:"recorder_dir,omitempty"`
}

// Empty returns a PipelineConfig with all fields unset.
func Empty() *PipelineConfig {
	return &PipelineConfig{}
}

// Load reads a PipelineConfig from a JSON file. The file must have a .json
// extension and fit under 1MB; fields omitted from the file keep their
// defaults, so partial configs are safe.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Merge overlays set fields from other onto c, returning c for chaining.
// Used to apply a user config file on top of the shipped defaults.
func (c *PipelineConfig) Merge(other *PipelineConfig) *PipelineConfig {
	if other == nil {
		return c
	}
	if other.UDPPort != nil {
		c.UDPPort = other.UDPPort
	}
	if other.UDPAddress != nil {
		c.UDPAddress = other.UDPAddress
	}
	if other.ReceiveBuffer != nil {
		c.ReceiveBuffer = other.ReceiveBuffer
	}
	if other.LogInterval != nil {
		c.LogInterval = other.LogInterval
	}
	if other.BatchCapacity != nil {
		c.BatchCapacity = other.BatchCapacity
	}
	if other.RejectNonFinite != nil {
		c.RejectNonFinite = other.RejectNonFinite
	}
	if other.ForwardAddress != nil {
		c.ForwardAddress = other.ForwardAddress
	}
	if other.ForwardPort != nil {
		c.ForwardPort = other.ForwardPort
	}
	if other.GRPCListen != nil {
		c.GRPCListen = other.GRPCListen
	}
	if other.MaxClients != nil {
		c.MaxClients = other.MaxClients
	}
	if other.DatabasePath != nil {
		c.DatabasePath = other.DatabasePath
	}
	if other.RecorderDir != nil {
		c.RecorderDir = other.RecorderDir
	}
	return c
}

// Validate checks that set fields hold usable values.
func (c *PipelineConfig) Validate() error {
	if c.UDPPort != nil && (*c.UDPPort < 1 || *c.UDPPort > 65535) {
		return fmt.Errorf("udp_port must be 1-65535, got %d", *c.UDPPort)
	}
	if c.ReceiveBuffer != nil && *c.ReceiveBuffer < 0 {
		return fmt.Errorf("receive_buffer must be non-negative, got %d", *c.ReceiveBuffer)
	}
	if c.BatchCapacity != nil && *c.BatchCapacity < 0 {
		return fmt.Errorf("batch_capacity must be non-negative, got %d", *c.BatchCapacity)
	}
	if c.LogInterval != nil && *c.LogInterval != "" {
		if _, err := time.ParseDuration(*c.LogInterval); err != nil {
			return fmt.Errorf("invalid log_interval '%s': %w", *c.LogInterval, err)
		}
	}
	if c.MaxClients != nil && *c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be positive, got %d", *c.MaxClients)
	}
	return nil
}

// GetUDPPort returns the UDP ingest port or the default.
func (c *PipelineConfig) GetUDPPort() int {
	if c.UDPPort == nil {
		return 7501
	}
	return *c.UDPPort
}

// GetUDPAddress returns the UDP bind address or "" for all interfaces.
func (c *PipelineConfig) GetUDPAddress() string {
	if c.UDPAddress == nil {
		return ""
	}
	return *c.UDPAddress
}

// GetReceiveBuffer returns the socket receive buffer size or the default.
func (c *PipelineConfig) GetReceiveBuffer() int {
	if c.ReceiveBuffer == nil {
		return 4 << 20
	}
	return *c.ReceiveBuffer
}

// GetLogInterval parses and returns the stats logging interval.
func (c *PipelineConfig) GetLogInterval() time.Duration {
	if c.LogInterval == nil || *c.LogInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.LogInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetBatchCapacity returns the capacity hint for decoded batches.
func (c *PipelineConfig) GetBatchCapacity() int {
	if c.BatchCapacity == nil {
		return 256
	}
	return *c.BatchCapacity
}

// GetRejectNonFinite reports whether ingest drops batches containing NaN or
// Inf fields.
func (c *PipelineConfig) GetRejectNonFinite() bool {
	if c.RejectNonFinite == nil {
		return true
	}
	return *c.RejectNonFinite
}

// GetForwardAddress returns the datagram mirror target host or the default.
func (c *PipelineConfig) GetForwardAddress() string {
	if c.ForwardAddress == nil {
		return "localhost"
	}
	return *c.ForwardAddress
}

// GetForwardPort returns the datagram mirror target port or the default.
func (c *PipelineConfig) GetForwardPort() int {
	if c.ForwardPort == nil {
		return 7502
	}
	return *c.ForwardPort
}

// GetGRPCListen returns the publisher listen address or the default.
func (c *PipelineConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:50071"
	}
	return *c.GRPCListen
}

// GetMaxClients returns the publisher client limit or the default.
func (c *PipelineConfig) GetMaxClients() int {
	if c.MaxClients == nil {
		return 5
	}
	return *c.MaxClients
}

// GetDatabasePath returns the sqlite path or the default.
func (c *PipelineConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "motion_data.db"
	}
	return *c.DatabasePath
}

// GetRecorderDir returns the batch log directory, or "" when recording is
// disabled.
func (c *PipelineConfig) GetRecorderDir() string {
	if c.RecorderDir == nil {
		return ""
	}
	return *c.RecorderDir
}
