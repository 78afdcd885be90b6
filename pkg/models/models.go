// Package models holds the persisted entities of the SWC coordinator: User,
// Environment, Session, and Agent, per spec §3.
package models

import "time"

type EnvironmentStatus string

const (
	EnvironmentStatusReady EnvironmentStatus = "ready"
	EnvironmentStatusError EnvironmentStatus = "error"
)

type SessionStatus string

const (
	SessionStatusInactive SessionStatus = "inactive"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusDead     SessionStatus = "dead"
)

type SessionType string

const (
	SessionTypeShell SessionType = "shell"
	SessionTypeAgent SessionType = "agent"
)

// User is the account owning environments and agents. The core never
// destroys a User; VCS credential storage is delegated to KMS (see
// internal/crypto) and only the encrypted blob lives here.
type User struct {
	ID                  string    `json:"id" db:"id"`
	Username            string    `json:"username" db:"username"`
	VCSCredentialBlob   []byte    `json:"-" db:"vcs_credential_blob"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Environment is a pure declaration (invariant E1): it owns no container.
type Environment struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	Name           string            `json:"name" db:"name"`
	RepositoryURL  *string           `json:"repository_url,omitempty" db:"repository_url"`
	DefaultBranch  string            `json:"default_branch" db:"default_branch"`
	Status         EnvironmentStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// Session binds one git branch to one container, per spec §3 invariants
// S1-S4.
type Session struct {
	ID                string        `json:"id" db:"id"`
	EnvironmentID     string        `json:"environment_id" db:"environment_id"`
	Name              string        `json:"name" db:"name"`
	PtyMuxName        string        `json:"pty_mux_name" db:"pty_mux_name"`
	WorkingDirectory  string        `json:"working_directory" db:"working_directory"`
	Status            SessionStatus `json:"status" db:"status"`
	ContainerID       *string       `json:"container_id,omitempty" db:"container_id"`
	GitBranch         *string       `json:"git_branch,omitempty" db:"git_branch"`
	SessionType       SessionType   `json:"session_type" db:"session_type"`
	AgentID           *string       `json:"agent_id,omitempty" db:"agent_id"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
	LastActivity      *time.Time    `json:"last_activity,omitempty" db:"last_activity"`
}

// Agent is optional input to a session of SessionType agent; per spec §3,
// agent process supervision is future work — only name/type surface in the
// attach stream.
type Agent struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Name           string    `json:"name" db:"name"`
	Type           string    `json:"type" db:"type"`
	CredentialBlob []byte    `json:"-" db:"credential_blob"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
