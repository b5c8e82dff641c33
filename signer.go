package gidtoken

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// Sign produces an RS256 compact JWT over payload using key.
//
// The protected header always carries alg=RS256 and typ=JWT; every other entry
// of header (typically kid) is copied as-is.
func Sign(header, payload ClaimSet, key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", newError(ErrCodeSigning, errors.New("private key is nil"))
	}
	if err := key.Validate(); err != nil {
		return "", newError(ErrCodeSigning, fmt.Errorf("private key is malformed: %w", err))
	}

	hdrs := jws.NewHeaders()
	for name, value := range header {
		if name == jws.AlgorithmKey {
			continue
		}
		if err := hdrs.Set(name, value); err != nil {
			return "", newError(ErrCodeSigning, fmt.Errorf("set header %q: %w", name, err))
		}
	}
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return "", newError(ErrCodeSigning, fmt.Errorf("set header %q: %w", jws.TypeKey, err))
	}

	body, err := EncodeClaims(payload)
	if err != nil {
		return "", newError(ErrCodeSigning, err)
	}

	signed, err := jws.Sign(body, jws.WithKey(jwa.RS256, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", newError(ErrCodeSigning, err)
	}
	return string(signed), nil
}

// SignAssertion signs payload on behalf of identity, using its key ID as kid.
func SignAssertion(identity ServiceIdentity, payload ClaimSet) (string, error) {
	header := ClaimSet{}
	if identity.KeyID != "" {
		header[jws.KeyIDKey] = identity.KeyID
	}
	return Sign(header, payload, identity.PrivateKey)
}
