package gateway

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// The remote gateway is not consistent about response shapes across versions:
// the same logical field shows up under different names, sometimes nested
// under an "instance" envelope, sometimes as a string where a bool is
// expected. Everything below flattens those shapes into the canonical types.

func decodeMap(raw []byte) map[string]interface{} {
	m := make(map[string]interface{})
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

// lookup resolves a dotted path ("instance.status") in a decoded payload.
func lookup(m map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, p := range parts {
		mm, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = mm[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// firstString returns the first non-empty string value among paths.
func firstString(m map[string]interface{}, paths ...string) string {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if s := strings.TrimSpace(cast.ToString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstBool returns the first present boolean-ish value among paths.
func firstBool(m map[string]interface{}, paths ...string) (value, present bool) {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			return cast.ToBool(v), true
		}
	}
	return false, false
}

// remoteTime parses the first present timestamp among paths. The gateway has
// been observed emitting RFC3339, epoch millis and locale-formatted strings.
func remoteTime(m map[string]interface{}, paths ...string) *time.Time {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok || v == nil {
			continue
		}
		switch tv := v.(type) {
		case float64:
			sec := int64(tv)
			if sec > 1e12 { // epoch millis
				sec = sec / 1000
			}
			t := time.Unix(sec, 0)
			return &t
		default:
			s := strings.TrimSpace(cast.ToString(v))
			if s == "" {
				continue
			}
			if t, err := dateparse.ParseAny(s); err == nil {
				return &t
			}
		}
	}
	return nil
}

// normalizePhone strips gateway JID decorations from a phone identifier,
// e.g. "5511999990000@s.whatsapp.net" -> "5511999990000".
func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "@:"); i >= 0 {
		s = s[:i]
	}
	return s
}

var (
	connectingStates = map[string]bool{
		"connecting": true,
		"qr":         true,
		"qrcode":     true,
		"pairing":    true,
	}
	connectedStates = map[string]bool{
		"open":      true,
		"connected": true,
		"online":    true,
	}
)

// NormalizeStatus interprets a check-status response. Precedence, first
// match wins:
//  1. remote reports connecting explicitly, including the compound
//     loggedIn=true && connected=false signal -> StateConnecting
//  2. remote reports a terminal open state (status "open"/"connected", or
//     connected=true && loggedIn=true) -> StateConnected with phone/lastSeen
//  3. anything else -> StateUnknown; the caller must not regress an already
//     connected instance on an ambiguous poll
func NormalizeStatus(raw []byte) *StatusDescriptor {
	m := decodeMap(raw)

	state := strings.ToLower(firstString(m,
		"status", "state", "connectionStatus",
		"instance.status", "instance.state", "instance.connectionStatus"))
	connected, hasConnected := firstBool(m, "connected", "instance.connected")
	loggedIn, hasLoggedIn := firstBool(m, "loggedIn", "logged_in", "instance.loggedIn")

	desc := &StatusDescriptor{State: StateUnknown}

	switch {
	case connectingStates[state]:
		desc.State = StateConnecting
	case hasLoggedIn && loggedIn && hasConnected && !connected:
		// session credentials exist but the socket is not up yet: still pairing
		desc.State = StateConnecting
	case connectedStates[state],
		hasConnected && connected && loggedIn:
		desc.State = StateConnected
	}

	if desc.State == StateConnected {
		desc.PhoneNumber = normalizePhone(firstString(m,
			"phoneNumber", "phone", "number", "owner",
			"instance.phoneNumber", "instance.owner", "instance.number"))
		desc.LastSeen = remoteTime(m,
			"lastSeen", "last_seen", "lastSeenAt", "instance.lastSeen", "updatedAt")
	}
	return desc
}

// NormalizeQR flattens the observed QR payload shapes (`base64`,
// `qrcode.base64`, bare `qrcode` string) into one canonical payload.
func NormalizeQR(raw []byte) *PairingPayload {
	m := decodeMap(raw)

	p := &PairingPayload{}
	if connected, ok := firstBool(m, "connected", "instance.connected"); ok && connected {
		p.Connected = true
		return p
	}
	if state := strings.ToLower(firstString(m, "status", "state", "instance.status")); connectedStates[state] {
		p.Connected = true
		return p
	}

	p.Base64 = firstString(m, "base64", "qrcode.base64", "qr.base64")
	p.Code = firstString(m, "code", "qrcode.code", "qr.code")
	if p.Base64 == "" && p.Code == "" {
		// some gateway builds return the payload directly under "qrcode"
		if v, ok := lookup(m, "qrcode"); ok {
			if s, ok := v.(string); ok && s != "" {
				if strings.HasPrefix(s, "data:image") || len(s) > 256 {
					p.Base64 = s
				} else {
					p.Code = s
				}
			}
		}
	}
	return p
}

// NormalizePairCode extracts a phone pairing code from its response shapes.
func NormalizePairCode(raw []byte) string {
	m := decodeMap(raw)
	code := firstString(m, "pairingCode", "pairCode", "pair_code", "code")
	return strings.ReplaceAll(code, "-", "")
}
