package domain

import "time"

// EnvironmentID identifies a deployment environment.
type EnvironmentID string

// Environment is a deployment target of the rollout pipeline, typically a
// stage or production gateway.
type Environment struct {
	ID        EnvironmentID
	Name      string
	Labels    map[string]string
	CreatedAt time.Time
}
