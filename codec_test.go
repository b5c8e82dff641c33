package gidtoken

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitCompact(t *testing.T) {
	h, p, s, err := SplitCompact("aaa.bbb.ccc")
	require.NoError(t, err)
	require.Equal(t, "aaa", h)
	require.Equal(t, "bbb", p)
	require.Equal(t, "ccc", s)

	for _, token := range []string{
		"",
		"aaa",
		"aaa.bbb",
		"aaa.bbb.ccc.ddd",
		"aaa..ccc",
		".bbb.ccc",
		"aaa.bbb.",
	} {
		t.Run(token, func(t *testing.T) {
			_, _, _, err := SplitCompact(token)
			requireCode(t, err, ErrCodeMalformedToken)
		})
	}
}

func TestDecodeSegment(t *testing.T) {
	seg := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","kid":"k1","exp":1700000000}`))
	claims, err := DecodeSegment(seg)
	require.NoError(t, err)

	alg, ok := claims.String("alg")
	require.True(t, ok)
	require.Equal(t, "RS256", alg)

	exp, ok := claims.Time("exp")
	require.True(t, ok)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), exp)

	t.Run("not base64url", func(t *testing.T) {
		_, err := DecodeSegment("***")
		requireCode(t, err, ErrCodeMalformedToken)
	})

	t.Run("padded", func(t *testing.T) {
		_, err := DecodeSegment(base64.URLEncoding.EncodeToString([]byte(`{"a":1}`)))
		requireCode(t, err, ErrCodeMalformedToken)
	})

	for _, body := range []string{`[1,2]`, `"text"`, `null`, `42`, `{"a":`} {
		t.Run(body, func(t *testing.T) {
			_, err := DecodeSegment(base64.RawURLEncoding.EncodeToString([]byte(body)))
			requireCode(t, err, ErrCodeMalformedToken)
		})
	}
}

func TestEncodeClaimsIsCanonical(t *testing.T) {
	data, err := EncodeClaims(ClaimSet{"sub": "b", "aud": "a", "exp": 10})
	require.NoError(t, err)
	require.Equal(t, `{"aud":"a","exp":10,"sub":"b"}`, string(data))

	seg, err := EncodeSegment(ClaimSet{"iss": "x"})
	require.NoError(t, err)
	require.NotContains(t, seg, "=")

	decoded, err := DecodeSegment(seg)
	require.NoError(t, err)
	iss, _ := decoded.String("iss")
	require.Equal(t, "x", iss)
}

func TestClaimSetAudience(t *testing.T) {
	require.Equal(t, []string{"https://foo.com"}, ClaimSet{"aud": "https://foo.com"}.Audience())
	require.Equal(t, []string{"a", "b"}, ClaimSet{"aud": []any{"a", "b"}}.Audience())
	require.Nil(t, ClaimSet{"aud": ""}.Audience())
	require.Nil(t, ClaimSet{}.Audience())
	require.Nil(t, ClaimSet{"aud": 5}.Audience())
}

func TestParseCompactNeedsObjects(t *testing.T) {
	header, err := EncodeSegment(ClaimSet{"alg": "RS256"})
	require.NoError(t, err)
	arr := base64.RawURLEncoding.EncodeToString([]byte(`[]`))

	_, err = parseCompact(header + "." + arr + ".c2ln")
	requireCode(t, err, ErrCodeMalformedToken)

	_, err = parseCompact(arr + "." + header + ".c2ln")
	requireCode(t, err, ErrCodeMalformedToken)

	parsed, err := parseCompact(header + "." + header + ".c2ln")
	require.NoError(t, err)
	require.Equal(t, "c2ln", parsed.signature)
}
