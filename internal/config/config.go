// Package config loads, validates, and defaults the single YAML settings
// document shared by every process, composed the way ariadne's
// UnifiedBusinessConfig composes per-section policies: one sub-struct per
// concern, a Validate that chains per-section validators, and an
// ApplyDefaults that fills zero values before first use.
package config

import (
	"fmt"
	"os"
	"time"

	"carina/internal/errs"

	"gopkg.in/yaml.v3"
)

// OperationMode is the controller's global operating mode.
type OperationMode string

const (
	Automatic     OperationMode = "AUTOMATIC"
	SemiAutomatic OperationMode = "SEMI_AUTOMATIC"
	Manual        OperationMode = "MANUAL"
)

// Valid reports whether m is one of the three recognized modes.
func (m OperationMode) Valid() bool {
	switch m {
	case Automatic, SemiAutomatic, Manual:
		return true
	default:
		return false
	}
}

// SumoSection configures the simulator connection the Central Controller owns.
type SumoSection struct {
	StepLength    float64 `yaml:"step_length"`
	NumRetries    int     `yaml:"num_retries"`
	RetryInterval float64 `yaml:"retry_interval_seconds"`
}

// HeatmapScalingSection configures the Heatmap Telemetry Worker's congestion
// weights. Keys are always the weight_* prefixed form (§3 Open Question
// resolution) regardless of what a legacy settings file might carry.
type HeatmapScalingSection struct {
	WeightOccupancy    float64 `yaml:"weight_occupancy" json:"weight_occupancy"`
	WeightWaitingTime  float64 `yaml:"weight_waiting_time" json:"weight_waiting_time"`
	WeightFlow         float64 `yaml:"weight_flow" json:"weight_flow"`
	AggregationStrategy string `yaml:"aggregation_strategy" json:"aggregation_strategy"`
}

// WatchdogSection configures the AI-silence grace period and heartbeat timeout.
type WatchdogSection struct {
	InitialGracePeriodSeconds float64 `yaml:"initial_grace_period_seconds"`
	HeartbeatTimeoutSeconds   float64 `yaml:"heartbeat_timeout_seconds"`
}

// InfrastructureAnalysisSection configures the Analysis Worker's trigger
// cadence and warrant thresholds.
type InfrastructureAnalysisSection struct {
	AnalysisFrequencySeconds      float64 `yaml:"analysis_frequency_seconds"`
	InitialAnalysisDelaySeconds   float64 `yaml:"initial_analysis_delay_seconds"`
	MinVolumePrimary              float64 `yaml:"min_volume_primary"`
	MinVolumeSecondary            float64 `yaml:"min_volume_secondary"`
	UnacceptableDelaySeconds      float64 `yaml:"unacceptable_delay_seconds"`
	ConflictEventsThreshold       int     `yaml:"conflict_events_threshold"`
	RemovalThresholdPercent       float64 `yaml:"removal_threshold_percent"`
	SignificantChangeThresholdPct float64 `yaml:"significant_change_threshold_percent"`
	CalibrationMinSamples         int     `yaml:"calibration_min_samples"`
}

// GuardianAgentSection configures the Safety Arbiter's placeholder policy.
type GuardianAgentSection struct {
	OccupancyVetoCeiling float64 `yaml:"occupancy_veto_ceiling"`
}

// TransportSection configures the socket network and directory from which
// the Launcher computes every endpoint address (written to wire.json)
// before spawning any worker, plus the delay between spawns. Each worker
// binds or dials its own endpoints.
type TransportSection struct {
	Network      string `yaml:"network"` // "unix" or "tcp"
	SocketDir    string `yaml:"socket_dir"`
	StartDelayMS int    `yaml:"start_delay_ms"`
}

// RuntimeConfig is the full, validated settings document.
type RuntimeConfig struct {
	ScenarioName          string                        `yaml:"scenario_name"`
	ResultsDir            string                        `yaml:"results_dir"`
	NetFilePath           string                        `yaml:"net_file_path"`
	Sumo                  SumoSection                   `yaml:"SUMO"`
	HeatmapScaling        HeatmapScalingSection         `yaml:"HEATMAP_SCALING"`
	Watchdog              WatchdogSection               `yaml:"WATCHDOG"`
	InfrastructureAnalysis InfrastructureAnalysisSection `yaml:"INFRASTRUCTURE_ANALYSIS"`
	GuardianAgent         GuardianAgentSection          `yaml:"GUARDIAN_AGENT"`
	Transport             TransportSection              `yaml:"TRANSPORT"`
}

// Load reads and parses path, applies defaults, and validates the result.
// Every failure is an errs.Configuration error: a missing or malformed
// settings file is fatal at the launcher, never retried.
func Load(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.Configuration, "read settings file "+path, err)
	}
	var cfg RuntimeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New(errs.Configuration, "parse settings file "+path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.Configuration, "validate settings file "+path, err)
	}
	return &cfg, nil
}

// Defaults returns a RuntimeConfig with every field at its documented
// default, useful for tests.
func Defaults() *RuntimeConfig {
	cfg := &RuntimeConfig{
		ScenarioName: "default",
		ResultsDir:   "results",
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-value fields in every section. Non-zero fields
// supplied by the caller are left untouched.
func (c *RuntimeConfig) ApplyDefaults() {
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
	if c.Sumo.StepLength == 0 {
		c.Sumo.StepLength = 1.0
	}
	if c.Sumo.NumRetries == 0 {
		c.Sumo.NumRetries = 60
	}
	if c.Sumo.RetryInterval == 0 {
		c.Sumo.RetryInterval = 1.0
	}
	if c.HeatmapScaling.WeightOccupancy == 0 && c.HeatmapScaling.WeightWaitingTime == 0 && c.HeatmapScaling.WeightFlow == 0 {
		c.HeatmapScaling.WeightOccupancy = 1.0
		c.HeatmapScaling.WeightWaitingTime = 1.5
		c.HeatmapScaling.WeightFlow = -0.5
	}
	if c.HeatmapScaling.AggregationStrategy == "" {
		c.HeatmapScaling.AggregationStrategy = "max"
	}
	if c.Watchdog.InitialGracePeriodSeconds == 0 {
		c.Watchdog.InitialGracePeriodSeconds = 15.0
	}
	if c.Watchdog.HeartbeatTimeoutSeconds == 0 {
		c.Watchdog.HeartbeatTimeoutSeconds = 15.0
	}
	if c.InfrastructureAnalysis.AnalysisFrequencySeconds == 0 {
		c.InfrastructureAnalysis.AnalysisFrequencySeconds = 86400
	}
	if c.InfrastructureAnalysis.InitialAnalysisDelaySeconds == 0 {
		c.InfrastructureAnalysis.InitialAnalysisDelaySeconds = 3600
	}
	if c.InfrastructureAnalysis.MinVolumePrimary == 0 {
		c.InfrastructureAnalysis.MinVolumePrimary = 500
	}
	if c.InfrastructureAnalysis.MinVolumeSecondary == 0 {
		c.InfrastructureAnalysis.MinVolumeSecondary = 150
	}
	if c.InfrastructureAnalysis.UnacceptableDelaySeconds == 0 {
		c.InfrastructureAnalysis.UnacceptableDelaySeconds = 90.0
	}
	if c.InfrastructureAnalysis.ConflictEventsThreshold == 0 {
		c.InfrastructureAnalysis.ConflictEventsThreshold = 10
	}
	if c.InfrastructureAnalysis.RemovalThresholdPercent == 0 {
		c.InfrastructureAnalysis.RemovalThresholdPercent = 60.0
	}
	if c.InfrastructureAnalysis.SignificantChangeThresholdPct == 0 {
		c.InfrastructureAnalysis.SignificantChangeThresholdPct = 5.0
	}
	if c.InfrastructureAnalysis.CalibrationMinSamples == 0 {
		c.InfrastructureAnalysis.CalibrationMinSamples = 100
	}
	if c.GuardianAgent.OccupancyVetoCeiling == 0 {
		c.GuardianAgent.OccupancyVetoCeiling = 0.95
	}
	if c.Transport.Network == "" {
		c.Transport.Network = "unix"
	}
	if c.Transport.SocketDir == "" {
		c.Transport.SocketDir = os.TempDir()
	}
	if c.Transport.StartDelayMS == 0 {
		c.Transport.StartDelayMS = 200
	}
}

// Validate chains per-section validation, matching the
// validateFetchPolicy/validateProcessPolicy/... chaining idiom.
func (c *RuntimeConfig) Validate() error {
	if err := c.validateSumo(); err != nil {
		return err
	}
	if err := c.validateHeatmapScaling(); err != nil {
		return err
	}
	if err := c.validateWatchdog(); err != nil {
		return err
	}
	if err := c.validateInfrastructureAnalysis(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	return nil
}

func (c *RuntimeConfig) validateSumo() error {
	if c.Sumo.StepLength <= 0 {
		return fmt.Errorf("SUMO.step_length must be positive, got %v", c.Sumo.StepLength)
	}
	if c.Sumo.NumRetries < 0 {
		return fmt.Errorf("SUMO.num_retries must be non-negative, got %v", c.Sumo.NumRetries)
	}
	return nil
}

func (c *RuntimeConfig) validateHeatmapScaling() error {
	switch c.HeatmapScaling.AggregationStrategy {
	case "max", "average":
	default:
		return fmt.Errorf("HEATMAP_SCALING.aggregation_strategy must be max or average, got %q", c.HeatmapScaling.AggregationStrategy)
	}
	return nil
}

func (c *RuntimeConfig) validateWatchdog() error {
	if c.Watchdog.HeartbeatTimeoutSeconds <= 0 {
		return fmt.Errorf("WATCHDOG.heartbeat_timeout_seconds must be positive, got %v", c.Watchdog.HeartbeatTimeoutSeconds)
	}
	return nil
}

func (c *RuntimeConfig) validateInfrastructureAnalysis() error {
	if c.InfrastructureAnalysis.AnalysisFrequencySeconds <= 0 {
		return fmt.Errorf("INFRASTRUCTURE_ANALYSIS.analysis_frequency_seconds must be positive, got %v", c.InfrastructureAnalysis.AnalysisFrequencySeconds)
	}
	if c.InfrastructureAnalysis.CalibrationMinSamples <= 0 {
		return fmt.Errorf("INFRASTRUCTURE_ANALYSIS.calibration_min_samples must be positive, got %v", c.InfrastructureAnalysis.CalibrationMinSamples)
	}
	return nil
}

func (c *RuntimeConfig) validateTransport() error {
	switch c.Transport.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("TRANSPORT.network must be unix or tcp, got %q", c.Transport.Network)
	}
	return nil
}

// ScenarioDir returns the per-scenario directory every process derives its
// state-file paths from.
func (c *RuntimeConfig) ScenarioDir() string {
	return c.ResultsDir + string(os.PathSeparator) + c.ScenarioName
}

// HeartbeatTimeout as a time.Duration convenience accessor.
func (w WatchdogSection) HeartbeatTimeout() time.Duration {
	return time.Duration(w.HeartbeatTimeoutSeconds * float64(time.Second))
}

// GracePeriod as a time.Duration convenience accessor.
func (w WatchdogSection) GracePeriod() time.Duration {
	return time.Duration(w.InitialGracePeriodSeconds * float64(time.Second))
}
