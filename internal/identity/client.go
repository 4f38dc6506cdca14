// Package identity talks to the external user service. It verifies bearer
// credentials for incoming connections and fetches user profiles, caching
// profiles in Redis so repeated lookups do not hammer the user service.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidCredential indicates the user service rejected the credential.
var ErrInvalidCredential = errors.New("identity: invalid credential")

// User is the subset of the user service's account record this service needs.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

// Client is an HTTP client for the user service with a Redis-backed profile
// cache.
type Client struct {
	baseURL      string
	http         *http.Client
	rdb          *redis.Client
	ttl          time.Duration
	serviceToken string
}

// NewClient creates a Client for the user service at baseURL. rdb may be nil,
// in which case profile lookups always hit the user service.
func NewClient(baseURL string, serviceToken string, rdb *redis.Client) *Client {
	return &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 5 * time.Second},
		rdb:          rdb,
		ttl:          5 * time.Minute,
		serviceToken: serviceToken,
	}
}

// Verify resolves a bearer credential to the user it belongs to. A 401 or 403
// from the user service maps to ErrInvalidCredential.
func (c *Client) Verify(ctx context.Context, credential string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/me", nil)
	if err != nil {
		return User{}, fmt.Errorf("identity: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("identity: verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return User{}, ErrInvalidCredential
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("identity: verify returned status %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("identity: decode verify response: %w", err)
	}
	return u, nil
}

// Profile fetches a user's profile by id, consulting the Redis cache first.
// Cache failures are logged and the lookup falls through to the user service.
func (c *Client) Profile(ctx context.Context, userID int64) (User, error) {
	key := fmt.Sprintf("profile:%d", userID)

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var u User
			if err := json.Unmarshal(data, &u); err == nil {
				return u, nil
			}
		} else if err != redis.Nil {
			log.Printf("identity: profile cache get failed user=%d: %v", userID, err)
		}
	}

	u, err := c.fetchProfile(ctx, userID)
	if err != nil {
		return User{}, err
	}

	if c.rdb != nil {
		data, err := json.Marshal(u)
		if err == nil {
			if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
				log.Printf("identity: profile cache set failed user=%d: %v", userID, err)
			}
		}
	}
	return u, nil
}

func (c *Client) fetchProfile(ctx context.Context, userID int64) (User, error) {
	url := fmt.Sprintf("%s/api/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return User{}, fmt.Errorf("identity: build profile request: %w", err)
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("identity: profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("identity: profile user=%d returned status %d", userID, resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("identity: decode profile response: %w", err)
	}
	return u, nil
}
