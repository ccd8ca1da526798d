package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yllada/pvpn/common"
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the directory API. It never retries.
type Client struct {
	http Doer
}

// NewClient returns a Client using doer, or a default http.Client bounded
// by common.APITimeout when doer is nil.
func NewClient(doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: common.APITimeout}
	}
	return &Client{http: doer}
}

// Logicals fetches the full server list from apiBase.
func (c *Client) Logicals(ctx context.Context, apiBase string) ([]LogicalServer, error) {
	var resp LogicalsResponse
	if err := c.get(ctx, apiBase, "/vpn/logicals", &resp); err != nil {
		return nil, err
	}
	if resp.Code != common.APISuccessCode {
		return nil, fmt.Errorf("%w: api returned code %d", common.ErrMalformedResponse, resp.Code)
	}
	if resp.LogicalServers == nil {
		return nil, fmt.Errorf("%w: missing LogicalServers", common.ErrMalformedResponse)
	}
	return resp.LogicalServers, nil
}

// Location reports the public IP and ISP the API sees for this host.
func (c *Client) Location(ctx context.Context, apiBase string) (*Location, error) {
	var loc Location
	if err := c.get(ctx, apiBase, "/vpn/location", &loc); err != nil {
		return nil, err
	}
	if loc.IP == "" {
		return nil, fmt.Errorf("%w: missing IP", common.ErrMalformedResponse)
	}
	return &loc, nil
}

// get issues one GET with the API headers and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, apiBase, path string, out interface{}) error {
	url := strings.TrimRight(apiBase, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrRemoteUnavailable, err)
	}
	req.Header.Set("x-pm-appversion", common.ClientTag+"_"+common.AppVersion)
	req.Header.Set("x-pm-apiversion", common.APIVersion)
	req.Header.Set("Accept", common.APIAccept)

	common.LogDebug("GET %s", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: GET %s: %s", common.ErrRemoteUnavailable, path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: GET %s: %w", common.ErrMalformedResponse, path, err)
	}
	return nil
}
