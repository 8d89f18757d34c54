// Package models defines shared types used across runforge packages.
package models

import "fmt"

// Environment identifies which datamart environment a run targets.
type Environment string

const (
	// EnvTest is for mock data and unit testing.
	EnvTest Environment = "test"
	// EnvDev is for development with small characteristic datasets.
	EnvDev Environment = "dev"
	// EnvLab is the full analysis sandbox with production-scale data.
	EnvLab Environment = "lab"
	// EnvAudit is for end-of-project validation with sanitized data.
	EnvAudit Environment = "audit"
	// EnvClient is for client delivery preparation.
	EnvClient Environment = "client"
)

// Valid returns true if the environment is a known value.
func (e Environment) Valid() bool {
	switch e {
	case EnvTest, EnvDev, EnvLab, EnvAudit, EnvClient:
		return true
	default:
		return false
	}
}

// ParseEnvironment converts a string into an Environment.
func ParseEnvironment(s string) (Environment, error) {
	e := Environment(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown environment %q", s)
	}
	return e, nil
}

// Environments lists all known environments in stable order.
func Environments() []Environment {
	return []Environment{EnvTest, EnvDev, EnvLab, EnvAudit, EnvClient}
}
