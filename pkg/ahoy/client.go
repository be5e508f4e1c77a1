// Package ahoy talks to the REST API of an AhoyDTU (Hoymiles inverter gateway).
package ahoy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	CMD_LIMIT_NONPERSISTENT_ABSOLUTE = "limit_nonpersistent_absolute"
)

var ErrInverterNotFound = errors.New("ahoy: inverter not found")

// FieldError is returned when the DTU answered but the payload is not what we expect.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("ahoy: field %s: %v", e.Field, e.Err)
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
	return fmt.Sprintf("ahoy: unexpected status code %d: %s", e.StatusCode, e.Body)
}

// CommandError is a command the DTU refused.
type CommandError struct {
	Cmd    string
	Reason string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ahoy: command %s rejected: %s", e.Cmd, e.Reason)
}

// Flag accepts JSON booleans as well as 0/1 numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %s", string(data))
	}
	return nil
}

type InverterStatus struct {
	Id          *uint  `json:"id"`
	Name        string `json:"name"`
	Enabled     *Flag  `json:"enabled"`
	IsAvail     *Flag  `json:"is_avail"`
	IsProducing Flag   `json:"is_producing"`
}

type indexResponse struct {
	Inverter []InverterStatus `json:"inverter"`
}

type ctrlRequest struct {
	Id  uint   `json:"id"`
	Cmd string `json:"cmd"`
	Val uint   `json:"val"`
}

type ctrlResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(host string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL(host),
		http:    httpClient,
	}
}

// GetInverters returns the inverter list of GET /api/index.
func (c *Client) GetInverters(ctx context.Context) ([]InverterStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/index", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var index indexResponse
	if err := json.Unmarshal(body, &index); err != nil {
		return nil, &FieldError{Field: "inverter", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return index.Inverter, nil
}

// GetInverter picks the entry whose id matches. Entries without id are
// matched by their position in the list.
func (c *Client) GetInverter(ctx context.Context, id uint) (*InverterStatus, error) {
	inverters, err := c.GetInverters(ctx)
	if err != nil {
		return nil, err
	}
	for i := range inverters {
		if inverters[i].Id != nil && *inverters[i].Id == id {
			return &inverters[i], nil
		}
	}
	if int(id) < len(inverters) && inverters[id].Id == nil {
		return &inverters[id], nil
	}
	return nil, &FieldError{Field: fmt.Sprintf("inverter[%d]", id), Err: ErrInverterNotFound}
}

func (c *Client) IsAvailable(ctx context.Context, id uint) (bool, error) {
	inv, err := c.GetInverter(ctx, id)
	if err != nil {
		return false, err
	}
	if inv.IsAvail == nil {
		return false, &FieldError{Field: fmt.Sprintf("inverter[%d].is_avail", id), Err: errors.New("missing value")}
	}
	return bool(*inv.IsAvail), nil
}

// SetLimit sends a non persistent absolute power limit in watts.
func (c *Client) SetLimit(ctx context.Context, id uint, watts uint) error {
	payload, err := json.Marshal(ctrlRequest{
		Id:  id,
		Cmd: CMD_LIMIT_NONPERSISTENT_ABSOLUTE,
		Val: watts,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ctrl", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	body, err := c.do(req)
	if err != nil {
		return err
	}

	// older firmwares answer with an empty body
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var resp ctrlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// plain text acknowledgements are accepted
		return nil
	}
	if resp.Success != nil && !*resp.Success {
		return &CommandError{Cmd: CMD_LIMIT_NONPERSISTENT_ABSOLUTE, Reason: resp.Error}
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
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
	return body, nil
}

func baseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + host
}
