package rpc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenCertificate(t *testing.T) {
	dir := t.TempDir()

	// Initial generation
	cert, fingerprint, err := GenCertificate(dir)
	require.NoError(t, err)
	assert.Len(t, fingerprint, 64)
	assert.Equal(t, fingerprint, GetCertFingerprint(cert.Leaf.Raw))
	initialFingerprint := fingerprint

	// Load
	cert, fingerprint, err = GenCertificate(dir)
	require.NoError(t, err)
	assert.Equal(t, initialFingerprint, fingerprint)
	assert.Equal(t, initialFingerprint, GetCertFingerprint(cert.Leaf.Raw))

	// The fingerprint file is regenerated if removed
	fingerprintPath := filepath.Join(dir, "tls", "cert-fingerprint.txt")
	require.NoError(t, os.Remove(fingerprintPath))
	cert, fingerprint, err = GenCertificate(dir)
	require.NoError(t, err)
	assert.Equal(t, initialFingerprint, fingerprint)
	assert.Equal(t, initialFingerprint, GetCertFingerprint(cert.Leaf.Raw))
}

func TestGenCertificateFiles(t *testing.T) {
	dir := t.TempDir()
	_, fingerprint, err := GenCertificate(dir)
	require.NoError(t, err)

	keyPath := filepath.Join(dir, "tls", "cert-private-key.pem")
	fingerprintPath := filepath.Join(dir, "tls", "cert-fingerprint.txt")

	t.Run("private key is only readable by the owner", func(t *testing.T) {
		info, err := os.Stat(keyPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("fingerprint file is trimmed", func(t *testing.T) {
		require.NoError(t, os.WriteFile(fingerprintPath, []byte(fingerprint+"\n"), 0644))
		_, loaded, err := GenCertificate(dir)
		require.NoError(t, err)
		assert.Equal(t, fingerprint, loaded)
	})

	t.Run("corrupt key is regenerated", func(t *testing.T) {
		require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0600))

		cert, regenerated, err := GenCertificate(dir)
		require.NoError(t, err)
		assert.NotEqual(t, fingerprint, regenerated)
		assert.Equal(t, regenerated, GetCertFingerprint(cert.Leaf.Raw))

		// the stale fingerprint file was replaced
		buf, err := os.ReadFile(fingerprintPath)
		require.NoError(t, err)
		assert.Equal(t, regenerated, string(buf))
	})
}
