package account

import "time"

// Status is the activity state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusTrial     Status = "trial"
	StatusExpired   Status = "expired"
	StatusWarning   Status = "warning"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusTrial, StatusExpired, StatusWarning:
		return true
	}
	return false
}

// Capability is the kind of access an operation needs.
type Capability int

const (
	CapabilityRead Capability = iota
	CapabilityWrite
)

// Allows reports whether an account in status s may exercise c.
func (s Status) Allows(c Capability) bool {
	switch c {
	case CapabilityRead:
		return s != StatusSuspended
	case CapabilityWrite:
		return s == StatusActive || s == StatusTrial || s == StatusWarning
	}
	return false
}

// Account is the quota ledger entry of one identity.
type Account struct {
	UID             string    `json:"uid"`
	Status          Status    `json:"status"`
	PlanID          string    `json:"plan_id"`
	UsedBytes       int64     `json:"used_bytes"`
	PendingBytes    int64     `json:"pending_bytes"`
	StorageCapBytes int64     `json:"storage_cap_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Quota is the caller-facing view of an account's storage usage.
type Quota struct {
	Status          Status  `json:"status"`
	PlanID          string  `json:"plan_id"`
	StorageCapBytes int64   `json:"storage_cap_bytes"`
	UsedBytes       int64   `json:"used_bytes"`
	PendingBytes    int64   `json:"pending_bytes"`
	AvailableBytes  int64   `json:"available_bytes"`
	UsagePercent    float64 `json:"usage_percent"`
}

// Snapshot derives the quota view of the account.
func (a Account) Snapshot() Quota {
	available := a.StorageCapBytes - a.UsedBytes - a.PendingBytes
	if available < 0 {
		available = 0
	}
	var percent float64
	if a.StorageCapBytes > 0 {
		percent = float64(a.UsedBytes+a.PendingBytes) / float64(a.StorageCapBytes) * 100
	}
	return Quota{
		Status:          a.Status,
		PlanID:          a.PlanID,
		StorageCapBytes: a.StorageCapBytes,
		UsedBytes:       a.UsedBytes,
		PendingBytes:    a.PendingBytes,
		AvailableBytes:  available,
		UsagePercent:    percent,
	}
}
