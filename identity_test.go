package gidtoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func serviceAccountJSON(t *testing.T, typ string, keyPEM []byte) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]string{
		"type":           typ,
		"project_id":     "project",
		"private_key_id": "0123456789abcdef",
		"private_key":    string(keyPEM),
		"client_email":   testEmail,
		"client_id":      "1234567890",
		"token_uri":      defaultTokenURL,
	})
	require.NoError(t, err)
	return data
}

func TestServiceIdentityFromJSON(t *testing.T) {
	key := testKey(t)

	t.Run("pkcs8", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

		identity, err := ServiceIdentityFromJSON(serviceAccountJSON(t, "service_account", keyPEM))
		require.NoError(t, err)
		require.Equal(t, testEmail, identity.Email)
		require.Equal(t, "0123456789abcdef", identity.KeyID)
		require.True(t, key.Equal(identity.PrivateKey))
	})

	t.Run("pkcs1", func(t *testing.T) {
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		identity, err := ServiceIdentityFromJSON(serviceAccountJSON(t, "service_account", keyPEM))
		require.NoError(t, err)
		require.True(t, key.Equal(identity.PrivateKey))
	})

	t.Run("wrong credential type", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

		_, err = ServiceIdentityFromJSON(serviceAccountJSON(t, "authorized_user", keyPEM))
		requireCode(t, err, ErrCodeInvalidIdentity)
	})

	t.Run("not rsa", func(t *testing.T) {
		ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(ec)
		require.NoError(t, err)
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

		_, err = ServiceIdentityFromJSON(serviceAccountJSON(t, "service_account", keyPEM))
		requireCode(t, err, ErrCodeInvalidIdentity)
	})

	t.Run("garbage key", func(t *testing.T) {
		_, err := ServiceIdentityFromJSON(serviceAccountJSON(t, "service_account", []byte("not pem")))
		requireCode(t, err, ErrCodeInvalidIdentity)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ServiceIdentityFromJSON([]byte("{"))
		requireCode(t, err, ErrCodeInvalidIdentity)
	})
}

func TestServiceIdentityFromFile(t *testing.T) {
	der, err := x509.MarshalPKCS8PrivateKey(testKey(t))
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, serviceAccountJSON(t, "service_account", keyPEM), 0o600))

	identity, err := ServiceIdentityFromFile(path)
	require.NoError(t, err)
	require.Equal(t, testEmail, identity.Email)

	_, err = ServiceIdentityFromFile(filepath.Join(t.TempDir(), "missing.json"))
	requireCode(t, err, ErrCodeInvalidIdentity)
}
