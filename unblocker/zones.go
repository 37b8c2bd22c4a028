package unblocker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/musicaftersex/brightdata-mcp/connectivity"
	"github.com/musicaftersex/brightdata-mcp/guard"
	"github.com/musicaftersex/brightdata-mcp/session"
)

// Zone types created by EnsureZones.
const (
	ZoneTypeUnblocker = "unblocker"
	ZoneTypeBrowser   = "browser_api"
)

// BrowserHost is the remote browser control endpoint.
const BrowserHost = "brd.superproxy.io:9222"

// Zone is one active zone of the account.
type Zone struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ActiveZones lists the zones of the account.
func (c *Client) ActiveZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	if err := c.doJSON(ctx, &connectivity.Request{Method: http.MethodGet, Path: "/zone/get_active_zones"}, &zones); err != nil {
		return nil, fmt.Errorf("unblocker: active zones: %w", err)
	}
	return zones, nil
}

// EnsureZones creates the unlocker and browser zones when they do not exist
// yet. It returns the names of the zones it created.
func (c *Client) EnsureZones(ctx context.Context) ([]string, error) {
	zones, err := c.ActiveZones(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(zones))
	for _, z := range zones {
		have[z.Name] = true
	}

	var created []string
	for _, want := range []Zone{
		{Name: c.unlockerZone, Type: ZoneTypeUnblocker},
		{Name: c.browserZone, Type: ZoneTypeBrowser},
	} {
		if want.Name == "" || have[want.Name] {
			continue
		}
		if err := c.createZone(ctx, want); err != nil {
			return created, err
		}
		c.logger.Info("unblocker: zone created", "zone", want.Name, "type", want.Type)
		created = append(created, want.Name)
	}
	return created, nil
}

func (c *Client) createZone(ctx context.Context, z Zone) error {
	if err := guard.ValidateIdentifier(z.Name); err != nil {
		return fmt.Errorf("unblocker: zone name: %w", err)
	}
	body := map[string]any{
		"zone": map[string]string{"name": z.Name, "type": z.Type},
		"plan": map[string]string{"type": z.Type},
	}
	if err := c.doJSON(ctx, &connectivity.Request{Method: http.MethodPost, Path: "/zone", Body: jsonBody(body)}, nil); err != nil {
		// A concurrent process may have created it first.
		if connectivity.IsStatus(err, http.StatusConflict) {
			return nil
		}
		return fmt.Errorf("unblocker: create zone %s: %w", z.Name, err)
	}
	return nil
}

// CustomerID returns the account's customer identifier.
func (c *Client) CustomerID(ctx context.Context) (string, error) {
	var out struct {
		Customer string `json:"customer"`
	}
	if err := c.doJSON(ctx, &connectivity.Request{Method: http.MethodGet, Path: "/status"}, &out); err != nil {
		return "", fmt.Errorf("unblocker: status: %w", err)
	}
	if out.Customer == "" {
		return "", fmt.Errorf("unblocker: status: no customer id in reply")
	}
	return out.Customer, nil
}

// ZonePassword returns the first password of zone.
func (c *Client) ZonePassword(ctx context.Context, zone string) (string, error) {
	if err := guard.ValidateIdentifier(zone); err != nil {
		return "", fmt.Errorf("unblocker: zone name: %w", err)
	}
	var out struct {
		Passwords []string `json:"passwords"`
	}
	err := c.doJSON(ctx, &connectivity.Request{
		Method: http.MethodGet,
		Path:   "/zone/passwords",
		Query:  url.Values{"zone": {zone}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("unblocker: zone passwords: %w", err)
	}
	if len(out.Passwords) == 0 {
		return "", fmt.Errorf("unblocker: zone %s has no password", zone)
	}
	return out.Passwords[0], nil
}

// BrowserEndpoint resolves the browser zone credentials once and returns an
// EndpointFunc that embeds the per-domain session token in the user name, so
// a reconnect lands on the same remote browser.
func (c *Client) BrowserEndpoint(ctx context.Context) (session.EndpointFunc, error) {
	customer, err := c.CustomerID(ctx)
	if err != nil {
		return nil, err
	}
	password, err := c.ZonePassword(ctx, c.browserZone)
	if err != nil {
		return nil, err
	}
	return BrowserEndpointFunc(customer, c.browserZone, password), nil
}

// BrowserEndpointFunc builds endpoints from known credentials.
func BrowserEndpointFunc(customer, zone, password string) session.EndpointFunc {
	return func(domain, token string) session.Endpoint {
		user := "brd-customer-" + customer + "-zone-" + zone
		if token != "" {
			user += "-session-" + token
		}
		u := url.URL{Scheme: "wss", User: url.UserPassword(user, password), Host: BrowserHost}
		return session.Endpoint{Domain: domain, Address: u.String(), Token: token}
	}
}

// StaticEndpoint returns an EndpointFunc that always connects to address.
// It serves explicit CDP endpoint overrides such as a local browser.
func StaticEndpoint(address string) session.EndpointFunc {
	address = strings.TrimSpace(address)
	return func(domain, token string) session.Endpoint {
		return session.Endpoint{Domain: domain, Address: address, Token: token}
	}
}
