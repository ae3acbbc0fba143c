package vehicle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultSolverBaseURL      = "https://2captcha.com"
	defaultSolverPollInterval = 5 * time.Second
	defaultSolverPollAttempts = 30
)

// TwoCaptcha solves image CAPTCHAs through a 2captcha-compatible HTTP
// API: submit the image to /in.php, then poll /res.php until the
// solution is ready. It implements CaptchaSolver.
type TwoCaptcha struct {
	client  *http.Client
	baseURL string
	apiKey  string

	pollInterval time.Duration
	pollAttempts int
}

// NewTwoCaptcha creates a solver authenticated with the given API key.
// baseURL may be empty to use the 2captcha production endpoint.
func NewTwoCaptcha(apiKey, baseURL string, timeout time.Duration) (*TwoCaptcha, error) {
	if apiKey == "" {
		return nil, errors.New("captcha API key required")
	}
	if baseURL == "" {
		baseURL = defaultSolverBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &TwoCaptcha{
		client:       &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pollInterval: defaultSolverPollInterval,
		pollAttempts: defaultSolverPollAttempts,
	}, nil
}

// solverResponse is the wire format of both API endpoints: status 1
// with the payload in request, or status 0 with an error code there.
type solverResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve implements CaptchaSolver.
func (t *TwoCaptcha) Solve(ctx context.Context, imageBase64 string) (string, error) {
	// Challenges arrive as data URIs; the service wants bare base64.
	if i := strings.IndexByte(imageBase64, ','); i >= 0 {
		imageBase64 = imageBase64[i+1:]
	}

	id, err := t.submit(ctx, imageBase64)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < t.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollInterval):
		}

		code, ready, err := t.result(ctx, id)
		if err != nil {
			return "", err
		}
		if ready {
			return code, nil
		}
	}

	return "", fmt.Errorf("captcha %s not solved after %d attempts", id, t.pollAttempts)
}

func (t *TwoCaptcha) submit(ctx context.Context, imageBase64 string) (string, error) {
	form := url.Values{
		"key":    {t.apiKey},
		"method": {"base64"},
		"body":   {imageBase64},
		"json":   {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.call(req)
	if err != nil {
		return "", fmt.Errorf("submit captcha: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("captcha submission rejected: %s", resp.Request)
	}
	return resp.Request, nil
}

// result polls for the solution. ready is false while the service
// still reports the captcha as pending.
func (t *TwoCaptcha) result(ctx context.Context, id string) (string, bool, error) {
	query := url.Values{
		"key":    {t.apiKey},
		"action": {"get"},
		"id":     {id},
		"json":   {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/res.php?"+query.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("create result request: %w", err)
	}

	resp, err := t.call(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch captcha result: %w", err)
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	if strings.Contains(resp.Request, "NOT_READY") {
		return "", false, nil
	}
	return "", false, fmt.Errorf("captcha solving failed: %s", resp.Request)
}

func (t *TwoCaptcha) call(req *http.Request) (*solverResponse, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	var sr solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &sr, nil
}
