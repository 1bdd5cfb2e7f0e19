package types

import (
	"context"
	"time"
)

// Post is one recent content item of a profile.
type Post struct {
	ID       string    `json:"id"`       // Service-side post identifier
	URL      string    `json:"url"`      // Permalink to the post
	Caption  string    `json:"caption"`  // Post caption text
	Likes    int64     `json:"likes"`    // Like count at fetch time
	Comments int64     `json:"comments"` // Comment count at fetch time
	PostedAt time.Time `json:"postedAt"` // When the post was published
}

// StableFields are profile attributes that change slowly.
// The last full fetch is their authoritative source.
type StableFields struct {
	DisplayName string `json:"displayName"`
	Biography   string `json:"biography"`
	Followers   int64  `json:"followers"`
	Following   int64  `json:"following"`
	Posts       int64  `json:"posts"`
	AvatarURL   string `json:"avatarUrl"`
	IsVerified  bool   `json:"isVerified"`
	IsPrivate   bool   `json:"isPrivate"`
	IsBusiness  bool   `json:"isBusiness"`
}

// VolatileFields are profile attributes that change frequently.
// They are never persisted in a snapshot.
type VolatileFields struct {
	RecentPosts    []Post  `json:"recentPosts"`
	AvgLikes       float64 `json:"avgLikes"`
	AvgComments    float64 `json:"avgComments"`
	EngagementRate float64 `json:"engagementRate"`
}

// Profile is a resolved profile record as handed back to callers.
type Profile struct {
	Identity string `json:"identity"`
	StableFields
	VolatileFields
	LastFullSyncAt time.Time `json:"lastFullSyncAt"`
}

// Snapshot is the cached, stable-only view of a profile.
type Snapshot struct {
	Identity       string       `json:"identity"`       // Normalized identity used as the key
	Stable         StableFields `json:"stable"`         // Stable fields from the last full fetch
	LastFullSyncAt time.Time    `json:"lastFullSyncAt"` // When the last full fetch completed
}

// Age returns how long ago the snapshot was fully synced.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.LastFullSyncAt)
}

// FetchOptions selects what the profile-data service should return.
type FetchOptions struct {
	OnlyVolatile bool
}

// FetchResult is the raw answer of the profile-data service.
// Stable is zero-valued on volatile-only fetches.
type FetchResult struct {
	Stable         StableFields
	RecentPosts    []Post
	AvgLikes       float64
	AvgComments    float64
	EngagementRate *float64 // Nil when the service did not compute it
}

// Fetcher performs the network call against the profile-data service.
type Fetcher interface {
	FetchProfile(ctx context.Context, identity string, opts FetchOptions) (*FetchResult, error)
}

// SnapshotStore is the durable key-value storage for snapshots, keyed by normalized identity.
type SnapshotStore interface {
	// GetSnapshot returns the snapshot and true if one exists.
	GetSnapshot(ctx context.Context, identity string) (*Snapshot, bool, error)
	// PutSnapshot creates or overwrites the snapshot for its identity.
	PutSnapshot(ctx context.Context, snapshot *Snapshot) error
}

// EngagementRate is (average likes / followers) * 100, and 0 when there are no followers.
func EngagementRate(avgLikes float64, followers int64) float64 {
	if followers <= 0 {
		return 0
	}

	return avgLikes / float64(followers) * 100
}
