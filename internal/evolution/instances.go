package evolution

import (
	"context"
	"net/http"
	"net/url"
)

// Integration identifiers accepted by /instance/create.
const (
	IntegrationBaileys   = "WHATSAPP-BAILEYS"
	IntegrationBusiness  = "WHATSAPP-BUSINESS"
	IntegrationEvolution = "EVOLUTION"
)

// CreateInstanceRequest is the /instance/create body.
type CreateInstanceRequest struct {
	InstanceName    string         `json:"instanceName"`
	QRCode          bool           `json:"qrcode"`
	Integration     string         `json:"integration"`
	Token           string         `json:"token,omitempty"`
	Number          string         `json:"number,omitempty"`
	RejectCall      bool           `json:"rejectCall"`
	MsgCall         string         `json:"msgCall,omitempty"`
	GroupsIgnore    bool           `json:"groupsIgnore"`
	AlwaysOnline    bool           `json:"alwaysOnline"`
	ReadMessages    bool           `json:"readMessages"`
	ReadStatus      bool           `json:"readStatus"`
	SyncFullHistory bool           `json:"syncFullHistory"`
	Webhook         map[string]any `json:"webhook,omitempty"`
	ProxyHost       string         `json:"proxyHost,omitempty"`
	ProxyPort       string         `json:"proxyPort,omitempty"`
	ProxyProtocol   string         `json:"proxyProtocol,omitempty"`
	ProxyUsername   string         `json:"proxyUsername,omitempty"`
	ProxyPassword   string         `json:"proxyPassword,omitempty"`
}

// listShapes is the ordered set of envelopes a list response may arrive in.
// The first structurally valid match wins; nothing matching yields an empty
// list.
var listShapes = []struct {
	name string
	pick func(v any) ([]any, bool)
}{
	{"data", func(v any) ([]any, bool) { return field(v, "data") }},
	{"response", func(v any) ([]any, bool) { return field(v, "response") }},
	{"bare", bare},
}

func bare(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

func field(v any, key string) ([]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	a, ok := m[key].([]any)
	return a, ok
}

// decodeList applies listShapes and keeps only object elements.
func decodeList(v any) []Payload {
	for _, s := range listShapes {
		items, ok := s.pick(v)
		if !ok {
			continue
		}
		out := make([]Payload, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return []Payload{}
}

// ListInstances returns every instance known to the gateway.
func (c *Client) ListInstances(ctx context.Context) ([]Payload, error) {
	v, err := c.call(ctx, "fetch_instances", http.MethodGet, "/instance/fetchInstances", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(v), nil
}

func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (Payload, error) {
	return c.callObject(ctx, "create_instance", http.MethodPost, "/instance/create", nil, req)
}

// ConnectInstance starts a session; the answer usually carries a QR code or
// pairing code. number is optional and requests a pairing code for it.
func (c *Client) ConnectInstance(ctx context.Context, instance, number string) (Payload, error) {
	var q url.Values
	if number != "" {
		q = url.Values{"number": {number}}
	}
	return c.callObject(ctx, "connect_instance", http.MethodGet, "/instance/connect/"+seg(instance), q, nil)
}

func (c *Client) ConnectionState(ctx context.Context, instance string) (Payload, error) {
	return c.callObject(ctx, "connection_state", http.MethodGet, "/instance/connectionState/"+seg(instance), nil, nil)
}

func (c *Client) LogoutInstance(ctx context.Context, instance string) (Payload, error) {
	return c.callObject(ctx, "logout_instance", http.MethodDelete, "/instance/logout/"+seg(instance), nil, nil)
}

func (c *Client) DeleteInstance(ctx context.Context, instance string) (Payload, error) {
	return c.callObject(ctx, "delete_instance", http.MethodDelete, "/instance/delete/"+seg(instance), nil, nil)
}
