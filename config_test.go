// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Aggressive, cfg.Policy)
	assert.Equal(t, int64(500<<20), cfg.MemoryLimitBytes)
	assert.Equal(t, int64(300_000), cfg.TimeoutMS)
	assert.Equal(t, int64(500<<20), cfg.MaxInputBytes)
	assert.False(t, cfg.AllowJBIG2)
	assert.True(t, cfg.SourceReadonlyRequired)
}

func TestConfigValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad policy":        func(c *Config) { c.Policy = "PERMISSIVE" },
		"memory too small":  func(c *Config) { c.MemoryLimitBytes = 1 << 20 },
		"timeout too small": func(c *Config) { c.TimeoutMS = 500 },
		"timeout too large": func(c *Config) { c.TimeoutMS = 7_200_000 },
		"no audit dir":      func(c *Config) { c.AuditDir = "" },
		"no key ref":        func(c *Config) { c.HMACKeyRef = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy = "LENIENT"
timeout_ms = 60000
max_pages = 100
audit_dir = "/var/log/stz"
hmac_key_ref = "file:/etc/stz/hmac.key"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Lenient, cfg.Policy)
	assert.Equal(t, int64(60000), cfg.TimeoutMS)
	assert.Equal(t, int64(100), cfg.MaxPages)
	assert.Equal(t, "/var/log/stz", cfg.AuditDir)
	// Unset options keep their defaults.
	assert.Equal(t, int64(500<<20), cfg.MemoryLimitBytes)
}

func TestLoadConfig_InvalidValuesRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("timeout_ms = 1\n"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func testKeyPair(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPath := filepath.Join(t.TempDir(), "config-signing.pub")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	require.NoError(t, os.WriteFile(pubPath, pemBytes, 0o600))
	return priv, pubPath
}

func TestConfigSignature_RoundTrip(t *testing.T) {
	priv, pubPath := testKeyPair(t)
	cfg := NewDefaultConfig()

	sig, err := SignConfig(cfg, priv)
	require.NoError(t, err)

	pub, err := LoadECDSAPublicKey(pubPath)
	require.NoError(t, err)
	assert.True(t, VerifyConfigSignature(cfg, sig, pub))

	// Any value change breaks the signature.
	tampered := *cfg
	tampered.Policy = Lenient
	assert.False(t, VerifyConfigSignature(&tampered, sig, pub))

	assert.False(t, VerifyConfigSignature(cfg, "deadbeef", pub))
	assert.False(t, VerifyConfigSignature(cfg, "not hex", pub))
}

func TestLoadSignedConfig(t *testing.T) {
	priv, pubPath := testKeyPair(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("policy = \"LENIENT\"\n"), 0o600))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	sig, err := SignConfig(cfg, priv)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath+".sig", []byte(sig+"\n"), 0o600))

	loaded, err := LoadSignedConfig(cfgPath, pubPath)
	require.NoError(t, err)
	assert.Equal(t, Lenient, loaded.Policy)

	// A post-signing edit refuses to start.
	require.NoError(t, os.WriteFile(cfgPath, []byte("policy = \"AGGRESSIVE\"\n"), 0o600))
	_, err = LoadSignedConfig(cfgPath, pubPath)
	assert.Error(t, err)

	// A missing signature refuses to start.
	require.NoError(t, os.Remove(cfgPath+".sig"))
	_, err = LoadSignedConfig(cfgPath, pubPath)
	assert.Error(t, err)
}

func TestResolveKeyRef(t *testing.T) {
	t.Setenv("STZ_TEST_KEY", "from-env")
	key, err := ResolveKeyRef("env:STZ_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), key)

	path := filepath.Join(t.TempDir(), "hmac.key")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))
	key, err = ResolveKeyRef("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-file"), key)

	_, err = ResolveKeyRef("env:STZ_UNSET_KEY_FOR_TEST")
	assert.Error(t, err)
	_, err = ResolveKeyRef("vault://nope")
	assert.Error(t, err)
}

func TestIRLimitsDerivation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MaxPages = 7
	limits := cfg.IRLimits()
	assert.Equal(t, int64(7), limits.MaxPages)
	assert.Equal(t, cfg.MaxGStateDepth, limits.MaxGStateDepth)
}
