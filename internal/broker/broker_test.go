package broker

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/robopanel/internal/config"
)

func writeTestCert(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "redis.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}

func TestTLSConfig(t *testing.T) {
	cfg, err := TLSConfig(config.RedisConfig{TLS: true})
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs, "system roots expected")

	_, err = TLSConfig(config.RedisConfig{SelfSigned: true})
	assert.Error(t, err, "self-signed without a certificate")

	cfg, err = TLSConfig(config.RedisConfig{SelfSigned: true, CACert: writeTestCert(t)})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = TLSConfig(config.RedisConfig{SelfSigned: true, CACert: bad})
	assert.Error(t, err)
}

func TestDial_NoConnection(t *testing.T) {
	c, err := Dial(config.RedisConfig{Addr: "127.0.0.1:1"})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "pepper-1_action_video", Topic("pepper-1", "action_video"))
	assert.Equal(t, "user:alice", UserKey("alice"))
}

func TestACLArgs(t *testing.T) {
	args := ACLArgs("alice", "s3cretpass")
	assert.Equal(t, []any{"ACL", "SETUSER", "alice", "on", ">s3cretpass", "+@all", "-@dangerous"}, args[:7])
	assert.Contains(t, args, "~user:alice")
	assert.Contains(t, args, "~alice-*")
	assert.Contains(t, args, "~robot_memory")
	assert.Len(t, args, 9+len(sharedKeys))
}
