package gidtoken

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// ClaimSet is the raw JSON object carried by a JWT header or payload segment.
type ClaimSet map[string]any

// EncodeClaims renders claims as canonical JSON (object keys sorted).
func EncodeClaims(claims ClaimSet) ([]byte, error) {
	if claims == nil {
		claims = ClaimSet{}
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("encode claims: %w", err)
	}
	return data, nil
}

// EncodeSegment renders claims as an unpadded base64url JWT segment.
func EncodeSegment(claims ClaimSet) (string, error) {
	data, err := EncodeClaims(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeSegment decodes a base64url JWT segment into a JSON object.
func DecodeSegment(segment string) (ClaimSet, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, newError(ErrCodeMalformedToken, fmt.Errorf("segment is not base64url: %w", err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var claims ClaimSet
	if err := dec.Decode(&claims); err != nil {
		return nil, newError(ErrCodeMalformedToken, fmt.Errorf("segment is not a JSON object: %w", err))
	}
	if claims == nil {
		return nil, newError(ErrCodeMalformedToken, errors.New("segment is not a JSON object"))
	}
	return claims, nil
}

// SplitCompact splits a compact JWT into its header, payload and signature segments.
func SplitCompact(token string) (header, payload, signature string, err error) {
	h, p, s, splitErr := jws.SplitCompactString(token)
	if splitErr != nil {
		return "", "", "", newError(ErrCodeMalformedToken, splitErr)
	}
	if len(h) == 0 || len(p) == 0 || len(s) == 0 {
		return "", "", "", newError(ErrCodeMalformedToken, errors.New("compact token has an empty segment"))
	}
	return string(h), string(p), string(s), nil
}

// compactToken is a structurally valid, not yet verified compact JWT.
type compactToken struct {
	raw       string
	header    ClaimSet
	payload   ClaimSet
	signature string
}

// parseCompact splits token and decodes its header and payload. It performs no I/O.
func parseCompact(token string) (*compactToken, error) {
	h, p, s, err := SplitCompact(token)
	if err != nil {
		return nil, err
	}
	header, err := DecodeSegment(h)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	payload, err := DecodeSegment(p)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return &compactToken{raw: token, header: header, payload: payload, signature: s}, nil
}

// String returns the claim under name if it is a JSON string.
func (c ClaimSet) String(name string) (string, bool) {
	v, ok := c[name].(string)
	return v, ok
}

// Audience normalizes the aud claim, which may be a single string or a list, to a list.
func (c ClaimSet) Audience() []string {
	switch v := c["aud"].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Time reads a NumericDate claim (seconds since the epoch).
func (c ClaimSet) Time(name string) (time.Time, bool) {
	var secs float64
	switch v := c[name].(type) {
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	default:
		return time.Time{}, false
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
}
