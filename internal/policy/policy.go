package policy

import (
	"errors"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrInvalidThreshold  = errors.New("threshold must be a positive integer")
	ErrInvalidComparator = errors.New("unknown threshold comparator")
	ErrInvalidTimeout    = errors.New("timeout must be positive and within the platform cap")
)

// MaxTimeout is the longest member timeout Discord accepts.
const MaxTimeout = 28 * 24 * time.Hour

// Comparator determines how the image count is compared against the threshold.
type Comparator string

const (
	// ComparatorExact triggers when the image count equals the threshold.
	ComparatorExact Comparator = "exact"
	// ComparatorGreaterThan triggers when the image count exceeds the threshold.
	ComparatorGreaterThan Comparator = "greater"
)

// Valid reports whether the comparator is a known value.
func (c Comparator) Valid() bool {
	return c == ComparatorExact || c == ComparatorGreaterThan
}

// Default policy values applied on first access for a guild.
const (
	DefaultThreshold  = 4
	DefaultComparator = ComparatorExact
	DefaultTimeout    = time.Hour
)

// GuildPolicy holds the per-guild detection and response rules.
// Instances returned by the store are snapshots; mutations go through the store.
type GuildPolicy struct {
	GuildID         snowflake.ID
	Threshold       int
	Comparator      Comparator
	Timeout         time.Duration
	EscalateToBan   bool
	ExcludedRoleIDs []snowflake.ID
	LogChannelID    *snowflake.ID
}

// Valid reports whether the policy can be used for scan decisions.
func (p *GuildPolicy) Valid() bool {
	return p != nil && p.Threshold >= 1 && p.Comparator.Valid()
}

// HasExcludedRole reports whether any of the given roles is excluded from scanning.
func (p *GuildPolicy) HasExcludedRole(roleIDs []snowflake.ID) bool {
	for _, excluded := range p.ExcludedRoleIDs {
		for _, role := range roleIDs {
			if role == excluded {
				return true
			}
		}
	}

	return false
}
