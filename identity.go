package gidtoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/oauth2/google"
)

// ServiceIdentity is the service principal an assertion is signed for.
// It is supplied by the caller and never retained beyond a single issuance call.
type ServiceIdentity struct {
	Email      string
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

func (s ServiceIdentity) validate() error {
	switch {
	case strings.TrimSpace(s.Email) == "":
		return newError(ErrCodeInvalidIdentity, errors.New("client email is required"))
	case s.PrivateKey == nil:
		return newError(ErrCodeInvalidIdentity, errors.New("private key is required"))
	}
	return nil
}

// ServiceIdentityFromJSON reads the client email, private key and key ID out of
// a Google service account key file.
func ServiceIdentityFromJSON(data []byte) (ServiceIdentity, error) {
	cfg, err := google.JWTConfigFromJSON(data)
	if err != nil {
		return ServiceIdentity{}, newError(ErrCodeInvalidIdentity, err)
	}
	if len(cfg.PrivateKey) == 0 {
		return ServiceIdentity{}, newError(ErrCodeInvalidIdentity, errors.New("private_key is empty"))
	}

	key, err := jwk.ParseKey(cfg.PrivateKey, jwk.WithPEM(true))
	if err != nil {
		return ServiceIdentity{}, newError(ErrCodeInvalidIdentity, fmt.Errorf("parse private_key: %w", err))
	}
	var priv rsa.PrivateKey
	if err := key.Raw(&priv); err != nil {
		return ServiceIdentity{}, newError(ErrCodeInvalidIdentity, fmt.Errorf("private_key is not an RSA key: %w", err))
	}

	identity := ServiceIdentity{
		Email:      cfg.Email,
		KeyID:      cfg.PrivateKeyID,
		PrivateKey: &priv,
	}
	if err := identity.validate(); err != nil {
		return ServiceIdentity{}, err
	}
	return identity, nil
}

// ServiceIdentityFromFile loads a service account key file from disk.
func ServiceIdentityFromFile(path string) (ServiceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceIdentity{}, newError(ErrCodeInvalidIdentity, fmt.Errorf("read %s: %w", path, err))
	}
	return ServiceIdentityFromJSON(data)
}
