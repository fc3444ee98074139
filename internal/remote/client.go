// Package remote talks to the tracking backend over HTTP. All calls carry
// the session identity headers; entry recording additionally carries the
// API key so the server can attribute the event.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/location"
)

const defaultTimeout = 10 * time.Second

// Client provides common HTTP operations against the tracking backend.
// One instance is shared by the foreground pipeline and the background
// agent; it is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    config.SessionConfig
	sessionID  string
}

func NewClient(httpClient *http.Client, server config.ServerConfig, session config.SessionConfig) *Client {
	if httpClient == nil {
		timeout := server.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    server.BaseURL,
		session:    session,
		sessionID:  uuid.NewString(),
	}
}

// SessionID identifies this process instance to the backend. A new id is
// minted per Client so the server can tell restart apart from reconnect.
func (c *Client) SessionID() string { return c.sessionID }

// FixSubmission is the wire shape of a submitted fix.
type FixSubmission struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timestamp    int64   `json:"timestamp"` // unix millis
	BatteryLevel *int    `json:"batteryLevel,omitempty"`
}

// SubmitFix reports one location fix.
func (c *Client) SubmitFix(ctx context.Context, fix location.Fix, batteryLevel *int) error {
	body := FixSubmission{
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Timestamp:    fix.Timestamp.UnixMilli(),
		BatteryLevel: batteryLevel,
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/location", body)
	if err != nil {
		return err
	}
	return c.doRequest(req, nil)
}

// RecordEntry records a geofence entry. The caller holds the entry lock;
// any error here must trigger a lock rollback so the next tick can retry.
func (c *Client) RecordEntry(ctx context.Context, fenceID int) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/geofence/userFenceIn", map[string]int{"geofenceId": fenceID})
	if err != nil {
		return err
	}
	if err := c.doRequest(req, nil); err != nil {
		return trkerrors.WrapRetryable(err, trkerrors.CategoryRemote, trkerrors.SeverityError, "entry recording failed").
			WithContext("geofence_id", fenceID)
	}
	return nil
}

// FetchFences returns the user's current geofence list.
func (c *Client) FetchFences(ctx context.Context) ([]geofence.Fence, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/geofence/list", nil)
	if err != nil {
		return nil, err
	}
	var fences []geofence.Fence
	if err := c.doRequest(req, &fences); err != nil {
		return nil, err
	}
	return fences, nil
}

// DailyDistanceResult is the server's authoritative distance figure.
type DailyDistanceResult struct {
	DistanceKm    float64 `json:"distanceKm"`
	LocationCount int     `json:"locationCount"`
}

// DailyDistance fetches the authoritative distance for a date
// ("2006-01-02"); an empty date means today. Supporters pass the watched
// user via the session's target user.
func (c *Client) DailyDistance(ctx context.Context, date string) (DailyDistanceResult, error) {
	endpoint := "/location/daily-distance"
	if date != "" {
		endpoint = endpoint + "/" + date
	}

	payload := map[string]string{}
	if c.session.Role == config.RoleSupporter && c.session.TargetUser != "" {
		payload["targetUser"] = c.session.TargetUser
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return DailyDistanceResult{}, err
	}
	var result DailyDistanceResult
	if err := c.doRequest(req, &result); err != nil {
		return DailyDistanceResult{}, err
	}
	return result, nil
}

// LastLocation is a user's most recent reported position.
type LastLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// FetchLastLocation returns the latest known fix for a user number.
// Supporter mode uses this to show the watched user's position.
func (c *Client) FetchLastLocation(ctx context.Context, userNumber string) (LastLocation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/location/last/"+url.PathEscape(userNumber), nil)
	if err != nil {
		return LastLocation{}, err
	}
	var loc LastLocation
	if err := c.doRequest(req, &loc); err != nil {
		return LastLocation{}, err
	}
	return loc, nil
}

// newRequest creates an HTTP request with the session identity headers.
// Endpoint is a relative path like "/geofence/list".
func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	cleanEndpoint := strings.TrimPrefix(endpoint, "/")

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryConfig, trkerrors.SeverityError, "failed to parse base URL").
			WithContext("base_url", c.baseURL)
	}

	basePath := strings.TrimSuffix(u.Path, "/")
	u.Path = path.Join(basePath, cleanEndpoint)

	var req *http.Request
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, trkerrors.Wrap(err, trkerrors.CategoryInternal, trkerrors.SeverityError, "failed to marshal request body")
		}
		req, err = http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(jsonBody))
		if err != nil {
			return nil, trkerrors.Wrap(err, trkerrors.CategoryInternal, trkerrors.SeverityError, "failed to create request").
				WithContext("method", method).
				WithContext("url", u.String())
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
		if err != nil {
			return nil, trkerrors.Wrap(err, trkerrors.CategoryInternal, trkerrors.SeverityError, "failed to create request").
				WithContext("method", method).
				WithContext("url", u.String())
		}
	}

	req.Header.Set("userNumber", c.session.UserNumber)
	req.Header.Set("X-API-Key", c.session.APIKey)
	req.Header.Set("X-Session-ID", c.sessionID)
	req.Header.Set("User-Agent", "fencewatch/1.0")

	return req, nil
}

// doRequest executes a request and decodes the JSON response into result
// when non-nil.
func (c *Client) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return trkerrors.WrapRetryable(err, trkerrors.CategoryNetwork, trkerrors.SeverityError, "failed to execute request").
			WithContext("method", req.Method).
			WithContext("url", req.URL.String())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		limitedBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		bodyStr := strings.ReplaceAll(string(limitedBody), "\n", " ")

		category := trkerrors.CategoryRemote
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			category = trkerrors.CategoryPermission
		}

		e := trkerrors.New(category, trkerrors.SeverityError, fmt.Sprintf("backend error: %s", resp.Status)).
			WithContext("status", resp.Status).
			WithContext("code", resp.StatusCode).
			WithContext("url", req.URL.String()).
			WithContext("response", bodyStr)
		if resp.StatusCode >= 500 {
			e.Retryable = true
		}
		return e
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return trkerrors.Wrap(err, trkerrors.CategoryRemote, trkerrors.SeverityError, "failed to decode response")
		}
	}

	return nil
}
