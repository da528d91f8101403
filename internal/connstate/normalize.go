// Package connstate maps the gateway's heterogeneous connection vocabularies
// onto the canonical channel status set. Everything here is pure.
package connstate

import (
	"fmt"
	"strings"
)

// Canonical statuses.
const (
	Connected    = "connected"
	Disconnected = "disconnected"
	QRPending    = "qr_pending"
	Error        = "error"
)

var (
	listingConnected    = set("open", "connected", "online", "authenticated", "ready", "up")
	listingDisconnected = set("close", "closed", "disconnected", "offline", "down")

	connectionConnected    = set("open", "connected", "online", "authenticated", "logged_in", "ready", "up")
	connectionDisconnected = set("close", "closed", "disconnected", "offline", "loggedout", "logged_out", "down")
)

// ListingConnectedTokens and the other token accessors expose the whitelists
// for callers that render or test them.
func ListingConnectedTokens() []string       { return keys(listingConnected) }
func ListingDisconnectedTokens() []string    { return keys(listingDisconnected) }
func ConnectionConnectedTokens() []string    { return keys(connectionConnected) }
func ConnectionDisconnectedTokens() []string { return keys(connectionDisconnected) }

// NormalizeListingStatus maps a status string from the instance list.
// Unknown tokens pass through lower-cased; empty input is disconnected.
func NormalizeListingStatus(raw string) string {
	s := clean(raw)
	switch {
	case listingConnected[s]:
		return Connected
	case listingDisconnected[s]:
		return Disconnected
	case s == "":
		return Disconnected
	default:
		return s
	}
}

// NormalizeWebhookStatus maps the state carried by a connection.update
// webhook. It uses the listing vocabulary plus the qr/pair heuristic.
func NormalizeWebhookStatus(raw string) string {
	s := clean(raw)
	switch {
	case listingConnected[s]:
		return Connected
	case listingDisconnected[s]:
		return Disconnected
	case isPairing(s):
		return QRPending
	case s == "":
		return Disconnected
	default:
		return s
	}
}

// NormalizeConnectionStatus interprets a connectionState payload.
//
// Order: an explicit truthy connected flag wins; then the status string is
// matched against the connection vocabulary; then a qr/pair substring means
// qr_pending; otherwise the lower-cased string passes through. With no
// status at all the result is previous, or disconnected when previous is
// empty.
func NormalizeConnectionStatus(payload map[string]any, previous string) string {
	body, _ := Unwrap(payload)

	if connectedFlag(body) {
		return Connected
	}

	s := clean(statusString(body))
	switch {
	case connectionConnected[s]:
		return Connected
	case connectionDisconnected[s]:
		return Disconnected
	case isPairing(s):
		return QRPending
	case s != "":
		return s
	case previous != "":
		return previous
	default:
		return Disconnected
	}
}

// ListingStatus extracts and normalizes the status of one fetchInstances item.
// A truthy top-level connected flag stands in for a missing status string.
func ListingStatus(item map[string]any) string {
	raw := firstString(item, "state", "status", "connectionStatus")
	if raw == "" && truthy(item["connected"]) {
		raw = Connected
	}
	return NormalizeListingStatus(raw)
}

var (
	flagFields   = []string{"connected", "isConnected", "online"}
	statusFields = []string{"state", "status", "connectionStatus", "message"}
)

func connectedFlag(body map[string]any) bool {
	for _, f := range flagFields {
		if truthy(body[f]) {
			return true
		}
	}
	if conn := child(body, "connection"); conn != nil {
		for _, f := range flagFields {
			if truthy(conn[f]) {
				return true
			}
		}
	}
	if dev := child(body, "device"); dev != nil && truthy(dev["online"]) {
		return true
	}
	return false
}

func statusString(body map[string]any) string {
	if s := firstString(body, statusFields...); s != "" {
		return s
	}
	if conn := child(body, "connection"); conn != nil {
		if s := firstString(conn, "status", "state"); s != "" {
			return s
		}
	}
	if dev := child(body, "device"); dev != nil {
		return firstString(dev, "status")
	}
	return ""
}

// truthy accepts bool true, "true"/"1"/"yes" and the number 1.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch clean(t) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return t == 1
	case int:
		return t == 1
	case int64:
		return t == 1
	}
	return false
}

func isPairing(s string) bool {
	return strings.Contains(s, "qr") || strings.Contains(s, "pair")
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func child(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	c, _ := m[key].(map[string]any)
	return c
}

// firstString returns the first field that stringifies to something
// non-empty. Objects and arrays are skipped.
func firstString(m map[string]any, fields ...string) string {
	for _, f := range fields {
		if s := stringOf(m[f]); s != "" {
			return s
		}
	}
	return ""
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any, []any:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

func set(tokens ...string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
