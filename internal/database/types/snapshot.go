package types

import (
	"time"

	governor "github.com/robalyx/profilegov/internal/governor/types"
)

// ProfileSnapshot is the stored row of a cached profile snapshot.
type ProfileSnapshot struct {
	Identity       string    `bun:",pk"      json:"identity"`       // Normalized profile handle
	DisplayName    string    `bun:",notnull" json:"displayName"`    // Display name
	Biography      string    `bun:",notnull" json:"biography"`      // Profile biography
	Followers      int64     `bun:",notnull" json:"followers"`      // Follower count
	Following      int64     `bun:",notnull" json:"following"`      // Following count
	Posts          int64     `bun:",notnull" json:"posts"`          // Total posts
	AvatarURL      string    `bun:",notnull" json:"avatarUrl"`      // Avatar image URL
	IsVerified     bool      `bun:",notnull" json:"isVerified"`     // Verified badge
	IsPrivate      bool      `bun:",notnull" json:"isPrivate"`      // Private account
	IsBusiness     bool      `bun:",notnull" json:"isBusiness"`     // Business account
	LastFullSyncAt time.Time `bun:",notnull" json:"lastFullSyncAt"` // When the last full fetch completed
}

// NewProfileSnapshot converts a snapshot into its stored row.
func NewProfileSnapshot(s *governor.Snapshot) *ProfileSnapshot {
	return &ProfileSnapshot{
		Identity:       s.Identity,
		DisplayName:    s.Stable.DisplayName,
		Biography:      s.Stable.Biography,
		Followers:      s.Stable.Followers,
		Following:      s.Stable.Following,
		Posts:          s.Stable.Posts,
		AvatarURL:      s.Stable.AvatarURL,
		IsVerified:     s.Stable.IsVerified,
		IsPrivate:      s.Stable.IsPrivate,
		IsBusiness:     s.Stable.IsBusiness,
		LastFullSyncAt: s.LastFullSyncAt,
	}
}

// Snapshot converts the stored row back into a snapshot.
func (p *ProfileSnapshot) Snapshot() *governor.Snapshot {
	return &governor.Snapshot{
		Identity: p.Identity,
		Stable: governor.StableFields{
			DisplayName: p.DisplayName,
			Biography:   p.Biography,
			Followers:   p.Followers,
			Following:   p.Following,
			Posts:       p.Posts,
			AvatarURL:   p.AvatarURL,
			IsVerified:  p.IsVerified,
			IsPrivate:   p.IsPrivate,
			IsBusiness:  p.IsBusiness,
		},
		LastFullSyncAt: p.LastFullSyncAt,
	}
}
