package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jaxron/axonet/middleware/singleflight"
	"github.com/jaxron/axonet/pkg/client"
	"github.com/jaxron/axonet/pkg/client/middleware"
	"github.com/robalyx/profilegov/internal/governor/types"
	"github.com/robalyx/profilegov/internal/setup/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 4 << 20

// postPayload is a recent post as sent by the service.
type postPayload struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Caption  string    `json:"caption"`
	Likes    int64     `json:"likes"`
	Comments int64     `json:"comments"`
	TakenAt  time.Time `json:"takenAt"`
}

// profilePayload is the JSON body of a profile answer.
// Stable fields are absent when only volatile fields were requested.
type profilePayload struct {
	Username       string        `json:"username"`
	FullName       string        `json:"fullName"`
	Biography      string        `json:"biography"`
	Followers      int64         `json:"followers"`
	Following      int64         `json:"following"`
	Posts          int64         `json:"posts"`
	ProfilePicURL  string        `json:"profilePicUrl"`
	IsVerified     bool          `json:"isVerified"`
	IsPrivate      bool          `json:"isPrivate"`
	IsBusiness     bool          `json:"isBusiness"`
	RecentPosts    []postPayload `json:"recentPosts"`
	AvgLikes       float64       `json:"avgLikes"`
	AvgComments    float64       `json:"avgComments"`
	EngagementRate *float64      `json:"engagementRate"`
}

// errorPayload is the JSON body of an error answer.
type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Client calls the profile-data service. It performs no pacing of its own;
// callers route it through the request queue.
type Client struct {
	httpClient *client.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a Client from the service and circuit breaker configuration.
func NewClient(cfg *config.ProfileService, breakerCfg *config.CircuitBreaker, logger *zap.Logger) *Client {
	logger = logger.Named("profile")

	middlewares := []middleware.Middleware{
		singleflight.New(),
		newServiceMiddleware(cfg.APIKey, cfg.UserAgent),
	}

	httpClient := client.NewClient(
		client.WithMarshalFunc(sonic.Marshal),
		client.WithUnmarshalFunc(sonic.Unmarshal),
		client.WithLogger(newLogger(logger)),
		client.WithTimeout(cfg.Timeout()),
		client.WithMiddleware(middlewares...),
	)

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		breaker:    newBreaker(breakerCfg, logger),
		logger:     logger,
	}
}

func newBreaker(cfg *config.CircuitBreaker, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "profile-service",
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Millisecond,
		Timeout:     time.Duration(cfg.Timeout) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.FailureThreshold > 0 && counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Missing profiles say nothing about the service's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProfileNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// FetchProfile implements types.Fetcher.
func (c *Client) FetchProfile(
	ctx context.Context, identity string, opts types.FetchOptions,
) (*types.FetchResult, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, identity, opts)
	})
	if err != nil {
		return nil, err
	}

	return result.(*types.FetchResult), nil
}

func (c *Client) fetch(ctx context.Context, identity string, opts types.FetchOptions) (*types.FetchResult, error) {
	scope := "full"
	if opts.OnlyVolatile {
		scope = "volatile"
	}

	start := time.Now()

	resp, err := c.httpClient.NewRequest().
		Method(http.MethodGet).
		URL(c.baseURL+"/v1/profiles/"+url.PathEscape(identity)).
		Query("scope", scope).
		Do(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("Profile service answered",
		zap.String("identity", identity),
		zap.String("scope", scope),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	var payload profilePayload
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	return payload.toResult(), nil
}

// errorMessage extracts the service's message from an error body.
func errorMessage(body []byte) string {
	var payload errorPayload
	if err := sonic.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}

		return payload.Error
	}

	return strings.TrimSpace(string(body))
}

func (p *profilePayload) toResult() *types.FetchResult {
	result := &types.FetchResult{
		Stable: types.StableFields{
			DisplayName: p.FullName,
			Biography:   p.Biography,
			Followers:   p.Followers,
			Following:   p.Following,
			Posts:       p.Posts,
			AvatarURL:   p.ProfilePicURL,
			IsVerified:  p.IsVerified,
			IsPrivate:   p.IsPrivate,
			IsBusiness:  p.IsBusiness,
		},
		AvgLikes:       p.AvgLikes,
		AvgComments:    p.AvgComments,
		EngagementRate: p.EngagementRate,
	}

	if p.RecentPosts != nil {
		result.RecentPosts = make([]types.Post, 0, len(p.RecentPosts))
		for _, post := range p.RecentPosts {
			result.RecentPosts = append(result.RecentPosts, types.Post{
				ID:       post.ID,
				URL:      post.URL,
				Caption:  post.Caption,
				Likes:    post.Likes,
				Comments: post.Comments,
				PostedAt: post.TakenAt,
			})
		}
	}

	return result
}
