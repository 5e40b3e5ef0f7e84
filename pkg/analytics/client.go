// Package analytics talks to the learner-engagement analytics service used
// by intervention exports.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when no analytics base URL was provided.
var ErrNotConfigured = errors.New("analytics service is not configured")

// LearnerEngagement is one learner's engagement counters for a course.
// Counters default to zero for learners the service does not know about.
type LearnerEngagement struct {
	Username                string `json:"username"`
	VideosOverall           int    `json:"videos_overall"`
	VideosLastWeek          int    `json:"videos_last_week"`
	ProblemsOverall         int    `json:"problems_overall"`
	ProblemsLastWeek        int    `json:"problems_last_week"`
	CorrectProblemsOverall  int    `json:"correct_problems_overall"`
	CorrectProblemsLastWeek int    `json:"correct_problems_last_week"`
	ProblemAttemptsOverall  int    `json:"problems_attempts_overall"`
	ProblemAttemptsLastWeek int    `json:"problems_attempts_last_week"`
	ForumPostsOverall       int    `json:"forum_posts_overall"`
	ForumPostsLastWeek      int    `json:"forum_posts_last_week"`
	DateLastActive          string `json:"date_last_active"`
}

// Config contains credentials for the analytics service.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a token-authenticated HTTP client for the analytics API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// New constructs an analytics client. A client without a base URL is usable
// but fails every call with ErrNotConfigured, so intervention exports degrade
// without taking the whole service down.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "analytics_client").Logger(),
	}, nil
}

// CourseEngagement fetches engagement counters for every learner the
// analytics service knows about in the given course.
func (c *Client) CourseEngagement(ctx context.Context, courseID string) ([]LearnerEngagement, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/courses/%s/user_engagement", c.baseURL, url.PathEscape(courseID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build analytics request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analytics service returned %s", resp.Status)
	}

	var payload []LearnerEngagement
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode analytics response: %w", err)
	}

	c.logger.Debug().Str("course_id", courseID).Int("learners", len(payload)).Msg("fetched engagement data")
	return payload, nil
}
