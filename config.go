// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// Policy selects what happens when a disallowed construct is found.
type Policy string

const (
	// Aggressive rejects the whole job on any disallowed construct.
	Aggressive Policy = "AGGRESSIVE"
	// Lenient drops the construct, records it as a removed threat, and
	// continues.
	Lenient Policy = "LENIENT"
)

// Config is the read-only runtime configuration. It is immutable after load;
// the controller re-reads it only at startup.
type Config struct {
	Policy Policy `toml:"policy" json:"policy" validate:"oneof=AGGRESSIVE LENIENT"`

	MemoryLimitBytes int64 `toml:"memory_limit_bytes" json:"memory_limit_bytes" validate:"min=104857600,max=2147483648"`
	TimeoutMS        int64 `toml:"timeout_ms" json:"timeout_ms" validate:"min=10000,max=3600000"`
	MaxInputBytes    int64 `toml:"max_input_bytes" json:"max_input_bytes" validate:"min=1024"`

	MaxPages             int64 `toml:"max_pages" json:"max_pages" validate:"min=1"`
	MaxOpsPerPage        int64 `toml:"max_ops_per_page" json:"max_ops_per_page" validate:"min=1"`
	MaxImagePixels       int64 `toml:"max_image_pixels" json:"max_image_pixels" validate:"min=1"`
	MaxImageBytes        int64 `toml:"max_image_bytes" json:"max_image_bytes" validate:"min=1"`
	MaxDecodeOutputBytes int64 `toml:"max_decode_output_bytes" json:"max_decode_output_bytes" validate:"min=1024"`
	MaxGStateDepth       int64 `toml:"max_gstate_depth" json:"max_gstate_depth" validate:"min=1,max=4096"`
	MaxOutputIRBytes     int64 `toml:"max_output_ir_bytes" json:"max_output_ir_bytes" validate:"min=1024"`
	MaxOutputBytes       int64 `toml:"max_output_bytes" json:"max_output_bytes" validate:"min=1024"`

	// AllowJBIG2 admits JBIG2Decode image streams. The decoder family has a
	// long vulnerability history; the default is off.
	AllowJBIG2 bool `toml:"allow_jbig2" json:"allow_jbig2"`

	AuditDir          string `toml:"audit_dir" json:"audit_dir" validate:"required"`
	HMACKeyRef        string `toml:"hmac_key_ref" json:"hmac_key_ref" validate:"required"`
	InputRoot         string `toml:"input_root" json:"input_root"`
	FallbackOutputDir string `toml:"fallback_output_dir" json:"fallback_output_dir"`

	SourceReadonlyRequired bool `toml:"source_readonly_required" json:"source_readonly_required"`
}

// NewDefaultConfig returns the documented defaults: aggressive policy,
// 500 MiB worker memory, 300 s wall clock, 500 MiB input cap.
func NewDefaultConfig() *Config {
	return &Config{
		Policy:                 Aggressive,
		MemoryLimitBytes:       500 << 20,
		TimeoutMS:              300_000,
		MaxInputBytes:          500 << 20,
		MaxPages:               5000,
		MaxOpsPerPage:          200_000,
		MaxImagePixels:         64 << 20,
		MaxImageBytes:          256 << 20,
		MaxDecodeOutputBytes:   256 << 20,
		MaxGStateDepth:         64,
		MaxOutputIRBytes:       1 << 30,
		MaxOutputBytes:         1 << 30,
		AllowJBIG2:             false,
		AuditDir:               "audit",
		HMACKeyRef:             "env:STZ_AUDIT_HMAC_KEY",
		SourceReadonlyRequired: true,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}

// IRLimits derives the invariant-validation bounds from the config.
func (cfg *Config) IRLimits() IRLimits {
	return IRLimits{
		MaxPages:       cfg.MaxPages,
		MaxOpsPerPage:  cfg.MaxOpsPerPage,
		MaxImagePixels: cfg.MaxImagePixels,
		MaxImageBytes:  cfg.MaxImageBytes,
		MaxGStateDepth: cfg.MaxGStateDepth,
		MaxPageArea:    1e10,
	}
}

// LoadConfig reads a TOML configuration file over the defaults and validates
// the result. No signature is checked; use LoadSignedConfig in production.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadSignedConfig loads path and verifies its detached ECDSA signature
// (hex-encoded ASN.1 DER in path+".sig") with the PEM public key at
// pubKeyPath. The signature covers the canonical JSON rendering of the
// loaded configuration, so formatting-only edits to the TOML do not break
// it but any value change does. An invalid signature refuses to start.
func LoadSignedConfig(path, pubKeyPath string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	sigHex, err := os.ReadFile(path + ".sig")
	if err != nil {
		return nil, fmt.Errorf("read config signature: %w", err)
	}
	pub, err := LoadECDSAPublicKey(pubKeyPath)
	if err != nil {
		return nil, err
	}
	if !VerifyConfigSignature(cfg, strings.TrimSpace(string(sigHex)), pub) {
		logger.Error("configuration signature verification failed")
		return nil, fmt.Errorf("configuration signature invalid: refusing to start")
	}
	return cfg, nil
}

// LoadECDSAPublicKey parses a PEM-encoded PKIX ECDSA public key.
func LoadECDSAPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ECDSA", key)
	}
	return pub, nil
}

// LoadECDSAPrivateKey parses a PEM-encoded EC or PKCS#8 private key. Used
// only by provisioning tooling; the runtime never holds the signing key.
func LoadECDSAPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ECDSA", key)
	}
	return priv, nil
}

// canonicalConfigJSON renders cfg as canonical JSON: lexicographically
// sorted keys, compact separators. This is the byte string signatures
// cover.
func canonicalConfigJSON(cfg *Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return canonicalizeJSON(raw)
}

// SignConfig produces the hex signature for cfg. Used by provisioning
// tooling; the runtime only verifies.
func SignConfig(cfg *Config, priv *ecdsa.PrivateKey) (string, error) {
	data, err := canonicalConfigJSON(cfg)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// VerifyConfigSignature reports whether sigHex is a valid signature of cfg.
func VerifyConfigSignature(cfg *Config, sigHex string, pub *ecdsa.PublicKey) bool {
	data, err := canonicalConfigJSON(cfg)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		logger.Error("configuration signature is not valid hex")
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// ResolveKeyRef resolves a key reference of the form "env:NAME" or
// "file:path" into key material. The audit HMAC key is sourced this way so
// the key itself never appears in the configuration record.
func ResolveKeyRef(ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		v := os.Getenv(strings.TrimPrefix(ref, "env:"))
		if v == "" {
			return nil, fmt.Errorf("key reference %q resolves to empty value", ref)
		}
		return []byte(v), nil
	case strings.HasPrefix(ref, "file:"):
		data, err := os.ReadFile(strings.TrimPrefix(ref, "file:"))
		if err != nil {
			return nil, fmt.Errorf("key reference %q: %w", ref, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("key reference %q resolves to empty file", ref)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unrecognized key reference %q (want env: or file:)", ref)
}
