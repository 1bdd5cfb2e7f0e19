package profile

import (
	"context"
	"io"
	"net/http"

	"github.com/jaxron/axonet/pkg/client/logger"
	"github.com/jaxron/axonet/pkg/client/middleware"
)

// serviceMiddleware authenticates requests to the profile-data service and
// turns non-2xx answers into *APIError values.
type serviceMiddleware struct {
	apiKey    string
	userAgent string
	logger    logger.Logger
}

func newServiceMiddleware(apiKey, userAgent string) *serviceMiddleware {
	return &serviceMiddleware{
		apiKey:    apiKey,
		userAgent: userAgent,
		logger:    &logger.NoOpLogger{},
	}
}

// Process sets the service headers before passing the request to the next middleware.
func (m *serviceMiddleware) Process(
	ctx context.Context, httpClient *http.Client, req *http.Request, next middleware.NextFunc,
) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}

	resp, err := next(ctx, httpClient, req)
	if resp == nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	m.logger.WithFields(
		logger.String("path", req.URL.Path),
		logger.Int("status_code", resp.StatusCode),
	).Debug("Profile service rejected request")

	return nil, newAPIError(resp.StatusCode, errorMessage(body))
}

// SetLogger sets the logger for the middleware.
func (m *serviceMiddleware) SetLogger(l logger.Logger) {
	m.logger = l
}
