package vehicle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const loginMaxAttempts = 3

// Connect implements Gateway against the vehicle vendor's connected-car
// HTTP API. It owns the session lifecycle: login happens only when no
// valid session exists or the service rejects the current one, and the
// CAPTCHA challenge inside login is delegated to the configured solver.
type Connect struct {
	client   *http.Client
	baseURL  string
	email    string
	password string
	solver   CaptchaSolver
	sessions SessionStore
	logger   *slog.Logger

	mu      sync.Mutex
	session Session
}

// ConnectConfig configures a Connect gateway.
type ConnectConfig struct {
	BaseURL  string
	Email    string
	Password string

	// Solver answers login CAPTCHA challenges. Without one, logins fail
	// as soon as the service raises a challenge.
	Solver CaptchaSolver

	// Sessions persists the token between runs. Optional.
	Sessions SessionStore

	// Timeout bounds every HTTP call. Defaults to 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewConnect creates a gateway for the configured account. If a session
// store is provided and holds a still-valid session, it is restored so
// the first call skips login entirely.
func NewConnect(cfg ConnectConfig) (*Connect, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("vehicle base URL required")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("vehicle credentials required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connect{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		solver:   cfg.Solver,
		sessions: cfg.Sessions,
		logger:   logger,
	}

	if cfg.Sessions != nil {
		if s, ok, err := cfg.Sessions.Load(); err != nil {
			logger.Warn("failed to load stored vehicle session", "error", err)
		} else if ok && s.Valid(time.Now()) {
			logger.Info("restored vehicle session from store", "vin", s.VIN)
			c.session = s
		}
	}

	return c, nil
}

// Status implements Gateway.
func (c *Connect) Status(ctx context.Context) (Snapshot, error) {
	body, err := c.authorizedCall(ctx, http.MethodGet, "/overview", nil)
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := parseOverview(body, time.Now())
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return snap, nil
}

// StartCharging implements Gateway.
func (c *Connect) StartCharging(ctx context.Context) error {
	return c.command(ctx, "/charging/start")
}

// StopCharging implements Gateway.
func (c *Connect) StopCharging(ctx context.Context) error {
	return c.command(ctx, "/charging/stop")
}

func (c *Connect) command(ctx context.Context, action string) error {
	body, err := c.authorizedCall(ctx, http.MethodPost, action, nil)
	if err != nil {
		return err
	}

	status := gjson.GetBytes(body, "status").String()
	switch status {
	case "SUCCESS", "PERFORMED":
		return nil
	default:
		msg := gjson.GetBytes(body, "message").String()
		return fmt.Errorf("%w: status %q %s", ErrCommandRejected, status, msg)
	}
}

// authorizedCall runs one vehicle API request under a valid session,
// logging in first if needed. A 401 invalidates the session and is
// reported as ErrAuthFailed; the next call will log in fresh.
func (c *Connect) authorizedCall(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	session, err := c.ensureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/vehicles/%s%s", c.baseURL, session.VIN, path)

	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateSession()
		return nil, fmt.Errorf("%w: session rejected", ErrAuthFailed)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(b))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return body, nil
}

// ensureAuthenticated returns the current session, acquiring one when
// absent or expired. Held under the mutex so concurrent callers never
// observe a half-initialized session and never race two logins.
func (c *Connect) ensureAuthenticated(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Valid(time.Now()) {
		return c.session, nil
	}

	session, err := c.login(ctx)
	if err != nil {
		c.session = Session{}
		return Session{}, err
	}

	if session.VIN == "" {
		session.VIN, err = c.firstVehicleVIN(ctx, session.Token)
		if err != nil {
			c.session = Session{}
			return Session{}, err
		}
	}

	c.session = session
	if c.sessions != nil {
		if err := c.sessions.Save(session); err != nil {
			c.logger.Warn("failed to persist vehicle session", "error", err)
		}
	}
	return session, nil
}

func (c *Connect) invalidateSession() {
	c.mu.Lock()
	c.session = Session{}
	c.mu.Unlock()
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaCode  string `json:"captchaCode,omitempty"`
	CaptchaState string `json:"captchaState,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Captcha   *struct {
		Image string `json:"image"`
		State string `json:"state"`
	} `json:"captcha"`
}

// login authenticates with the control service, solving CAPTCHA
// challenges as they come, up to loginMaxAttempts rounds.
func (c *Connect) login(ctx context.Context) (Session, error) {
	reqBody := loginRequest{Email: c.email, Password: c.password}

	for attempt := 0; attempt < loginMaxAttempts; attempt++ {
		resp, err := c.postLogin(ctx, reqBody)
		if err != nil {
			return Session{}, err
		}

		if resp.Captcha == nil {
			c.logger.Info("vehicle login succeeded")
			return Session{Token: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
		}

		c.logger.Info("vehicle login raised captcha challenge", "attempt", attempt+1)
		if c.solver == nil {
			return Session{}, fmt.Errorf("%w: captcha required but no solver configured", ErrAuthFailed)
		}
		code, err := c.solver.Solve(ctx, resp.Captcha.Image)
		if err != nil {
			return Session{}, fmt.Errorf("%w: solve captcha: %v", ErrAuthFailed, err)
		}
		reqBody.CaptchaCode = code
		reqBody.CaptchaState = resp.Captcha.State
	}

	return Session{}, fmt.Errorf("%w: captcha challenge persisted after %d attempts", ErrAuthFailed, loginMaxAttempts)
}

func (c *Connect) postLogin(ctx context.Context, body loginRequest) (*loginResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal login: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: credentials rejected", ErrAuthFailed)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: login status %d: %s", ErrUnavailable, resp.StatusCode, string(b))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("%w: decode login response: %v", ErrUnavailable, err)
	}
	if lr.Captcha == nil && lr.Token == "" {
		return nil, fmt.Errorf("%w: login response carried no token", ErrAuthFailed)
	}
	return &lr, nil
}

func (c *Connect) firstVehicleVIN(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/vehicles", nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: list vehicles status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	vin := gjson.GetBytes(body, "0.vin").String()
	if vin == "" {
		return "", fmt.Errorf("%w: account has no vehicles", ErrUnavailable)
	}
	c.logger.Info("selected vehicle", "vin", vin, "model", gjson.GetBytes(body, "0.model").String())
	return vin, nil
}

// parseOverview extracts a Snapshot from the overview payload. The
// payload is loosely structured and version-drifting, so the charging
// state is derived from three independent signals, any of which may be
// missing: the BATTERY_CHARGING_STATE field, the CHARGING_SUMMARY
// status, and a non-zero charging power in CHARGING_RATE.
func parseOverview(body []byte, now time.Time) (Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return Snapshot{}, errors.New("overview is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Snapshot{}, errors.New("overview is not a JSON object")
	}

	snap := Snapshot{State: StateUnknown, BatteryPercent: -1, FetchedAt: now}
	known := false

	if v := root.Get("BATTERY_CHARGING_STATE"); v.Exists() {
		known = true
		switch strings.ToUpper(v.String()) {
		case "CHARGING", "ON":
			snap.State = StateCharging
		case "ERROR":
			snap.State = StateError
		default:
			snap.State = StateNotCharging
		}
	}

	if summary := root.Get("CHARGING_SUMMARY.status"); summary.Exists() {
		known = true
		switch summary.String() {
		case "CHARGING":
			snap.State = StateCharging
			snap.PluggedIn = true
		case "NOT_PLUGGED", "":
			snap.PluggedIn = false
			if snap.State == StateUnknown {
				snap.State = StateNotCharging
			}
		default:
			snap.PluggedIn = true
			if snap.State == StateUnknown {
				snap.State = StateNotCharging
			}
		}
	}

	if power := root.Get("CHARGING_RATE.chargingPower"); power.Exists() && power.Float() > 0 {
		known = true
		snap.State = StateCharging
		snap.PluggedIn = true
	}

	if !known {
		return Snapshot{}, errors.New("overview carried no charging fields")
	}

	if level := root.Get("BATTERY_LEVEL.percent"); level.Exists() {
		pct := int(level.Int())
		if pct >= 0 && pct <= 100 {
			snap.BatteryPercent = pct
		}
	}

	return snap, nil
}
