// Package tasmota reads the current grid power from a Tasmota SML smart meter reader.
package tasmota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DEFAULT_STATUS_KEY = "StatusSNS"
	DEFAULT_SENSOR_KEY = "SML"
	DEFAULT_POWER_KEY  = "curr_w"

	statusCommand = "status 10"

	// readings beyond this are garbage, not a grid connection
	MAX_ABS_POWER_WATT = math.MaxInt32
)

type Config struct {
	Host     string
	User     string
	Password string
	// JSON path to the power value: <StatusKey>.<SensorKey>.<PowerKey>
	StatusKey string
	SensorKey string
	PowerKey  string
}

// FieldError is returned when the meter answered but the expected value is not there.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("tasmota: field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// StatusError is a non 2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tasmota: unexpected status code %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	cfg     Config
	http    *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.StatusKey == "" {
		cfg.StatusKey = DEFAULT_STATUS_KEY
	}
	if cfg.SensorKey == "" {
		cfg.SensorKey = DEFAULT_SENSOR_KEY
	}
	if cfg.PowerKey == "" {
		cfg.PowerKey = DEFAULT_POWER_KEY
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL(cfg.Host),
		cfg:     cfg,
		http:    httpClient,
	}
}

func (c *Client) PowerPath() string {
	return strings.Join([]string{c.cfg.StatusKey, c.cfg.SensorKey, c.cfg.PowerKey}, ".")
}

// ReadPowerWatt returns the current power at the grid connection point.
// Negative values mean export.
func (c *Client) ReadPowerWatt(ctx context.Context) (float64, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	return c.extractPower(status)
}

// Status runs the "status 10" command and returns the decoded answer.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	// tasmota expects %20, not '+'
	query := "cmnd=" + url.PathEscape(statusCommand)
	if c.cfg.User != "" {
		query += "&user=" + url.QueryEscape(c.cfg.User) + "&password=" + url.QueryEscape(c.cfg.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cm?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var status map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&status); err != nil {
		return nil, &FieldError{Field: "body", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return status, nil
}

func (c *Client) extractPower(status map[string]any) (float64, error) {
	node := status
	path := []string{c.cfg.StatusKey, c.cfg.SensorKey}
	for i, key := range path {
		child, ok := node[key].(map[string]any)
		if !ok {
			return 0, &FieldError{Field: strings.Join(path[:i+1], "."), Err: fmt.Errorf("missing object")}
		}
		node = child
	}

	raw, ok := node[c.cfg.PowerKey]
	if !ok {
		return 0, &FieldError{Field: c.PowerPath(), Err: fmt.Errorf("missing value")}
	}

	var f float64
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, &FieldError{Field: c.PowerPath(), Err: err}
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &FieldError{Field: c.PowerPath(), Err: err}
		}
		f = n
	default:
		return 0, &FieldError{Field: c.PowerPath(), Err: fmt.Errorf("unexpected type %T", raw)}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > MAX_ABS_POWER_WATT {
		return 0, &FieldError{Field: c.PowerPath(), Err: fmt.Errorf("value out of range: %v", f)}
	}
	return f, nil
}

func baseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + host
}
