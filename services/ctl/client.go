// Package ctl implements the rangerctl side of the management plane: an
// HTTP client for the rangerd API plus signed configuration backups.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rangerd/services/api"
)

// Client talks to the rangerd management API over TCP or a unix socket.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// ClientConfig selects the endpoint and credential for a Client.
type ClientConfig struct {
	// BaseURL is the TCP endpoint, e.g. http://127.0.0.1:8067. Ignored when
	// SocketPath is set.
	BaseURL string
	// SocketPath points at the daemon's API unix socket.
	SocketPath string
	// Token is the bearer credential: a bootstrap token or an issued
	// "<id>.<secret>" value.
	Token string
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	base := strings.TrimRight(cfg.BaseURL, "/")

	if cfg.SocketPath != "" {
		socket := cfg.SocketPath
		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
		// The host is never resolved; every connection goes to the socket.
		base = "http://rangerd"
	}

	if base == "" {
		return nil, errors.New("an API base URL or socket path is required")
	}

	return &Client{base: base, token: cfg.Token, http: httpClient}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("api: %s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("api: unexpected status %s", resp.Status)
}

// Health checks the daemon's public health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// SubnetSpec is the payload for creating a subnet.
type SubnetSpec struct {
	Network    string   `json:"network"`
	PrefixLen  int      `json:"prefix_len"`
	Gateway    string   `json:"gateway"`
	DNSServers []string `json:"dns_servers,omitempty"`
	DomainName string   `json:"domain_name,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

// RangeSpec is the payload for creating a dynamic range.
type RangeSpec struct {
	SubnetID     string `json:"subnet_id"`
	StartAddress string `json:"start_address"`
	EndAddress   string `json:"end_address"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

// StaticIPSpec is the payload for creating a static assignment.
type StaticIPSpec struct {
	SubnetID string `json:"subnet_id"`
	MAC      string `json:"mac"`
	Address  string `json:"address"`
	Hostname string `json:"hostname,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// ListSubnets returns every configured subnet.
func (c *Client) ListSubnets(ctx context.Context) ([]api.Subnet, error) {
	var out struct {
		Subnets []api.Subnet `json:"subnets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/subnets", nil, &out); err != nil {
		return nil, err
	}
	return out.Subnets, nil
}

// CreateSubnet creates a subnet.
func (c *Client) CreateSubnet(ctx context.Context, spec SubnetSpec) (api.Subnet, error) {
	var out struct {
		Subnet api.Subnet `json:"subnet"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/subnets", spec, &out); err != nil {
		return api.Subnet{}, err
	}
	return out.Subnet, nil
}

// DeleteSubnet removes a subnet together with its ranges and static
// assignments. Lease history stays behind.
func (c *Client) DeleteSubnet(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/subnets/"+url.PathEscape(id), nil, nil)
}

// ListRanges returns dynamic ranges, optionally filtered by subnet.
func (c *Client) ListRanges(ctx context.Context, subnetID string) ([]api.DynamicRange, error) {
	var out struct {
		Ranges []api.DynamicRange `json:"ranges"`
	}
	path := "/api/ranges"
	if subnetID != "" {
		path += "?subnet_id=" + url.QueryEscape(subnetID)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Ranges, nil
}

// CreateRange creates a dynamic range.
func (c *Client) CreateRange(ctx context.Context, spec RangeSpec) (api.DynamicRange, error) {
	var out struct {
		Range api.DynamicRange `json:"range"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ranges", spec, &out); err != nil {
		return api.DynamicRange{}, err
	}
	return out.Range, nil
}

// DeleteRange removes a dynamic range.
func (c *Client) DeleteRange(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/ranges/"+url.PathEscape(id), nil, nil)
}

// ListStaticIPs returns static assignments, optionally filtered by subnet.
func (c *Client) ListStaticIPs(ctx context.Context, subnetID string) ([]api.StaticIP, error) {
	var out struct {
		StaticIPs []api.StaticIP `json:"static_ips"`
	}
	path := "/api/static-ips"
	if subnetID != "" {
		path += "?subnet_id=" + url.QueryEscape(subnetID)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.StaticIPs, nil
}

// CreateStaticIP creates a static assignment.
func (c *Client) CreateStaticIP(ctx context.Context, spec StaticIPSpec) (api.StaticIP, error) {
	var out struct {
		StaticIP api.StaticIP `json:"static_ip"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/static-ips", spec, &out); err != nil {
		return api.StaticIP{}, err
	}
	return out.StaticIP, nil
}

// DeleteStaticIP removes a static assignment.
func (c *Client) DeleteStaticIP(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/static-ips/"+url.PathEscape(id), nil, nil)
}

// ListLeases returns lease history, newest first. A nil active lists all.
func (c *Client) ListLeases(ctx context.Context, subnetID string, active *bool) ([]api.Lease, error) {
	var out struct {
		Leases []api.Lease `json:"leases"`
	}
	q := url.Values{}
	if subnetID != "" {
		q.Set("subnet_id", subnetID)
	}
	if active != nil {
		q.Set("active", strconv.FormatBool(*active))
	}
	path := "/api/leases"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Leases, nil
}

// ReleaseLease retires an active lease, the management-plane equivalent of
// the client sending a RELEASE.
func (c *Client) ReleaseLease(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/leases/"+url.PathEscape(id), nil, nil)
}

// ListTokens returns every API token.
func (c *Client) ListTokens(ctx context.Context) ([]api.APIToken, error) {
	var out struct {
		Tokens []api.APIToken `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tokens", nil, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// CreateToken issues a token and returns it together with its plaintext
// value, which the server never shows again.
func (c *Client) CreateToken(ctx context.Context, name string) (api.APIToken, string, error) {
	var out struct {
		Token api.APIToken `json:"token"`
		Value string       `json:"value"`
	}
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/tokens", body, &out); err != nil {
		return api.APIToken{}, "", err
	}
	return out.Token, out.Value, nil
}

// ToggleToken flips a token between enabled and disabled.
func (c *Client) ToggleToken(ctx context.Context, id string) (api.APIToken, error) {
	var out struct {
		Token api.APIToken `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tokens/"+url.PathEscape(id)+"/toggle", nil, &out); err != nil {
		return api.APIToken{}, err
	}
	return out.Token, nil
}

// DeleteToken revokes a token permanently.
func (c *Client) DeleteToken(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tokens/"+url.PathEscape(id), nil, nil)
}
