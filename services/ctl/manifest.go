package ctl

import (
	"time"

	"gopkg.in/yaml.v3"
)

// manifestVersion is bumped when the bundle layout changes.
const manifestVersion = "1"

// Manifest describes the table documents inside a configuration bundle and
// carries a detached signature over the rest of its own fields.
type Manifest struct {
	Version          string          `yaml:"version"`
	CreatedAt        time.Time       `yaml:"created_at"`
	Signer           string          `yaml:"signer,omitempty"`
	SigningPublicKey string          `yaml:"signing_public_key,omitempty"`
	Signature        string          `yaml:"signature,omitempty"`
	Tables           []ManifestTable `yaml:"tables"`
}

// ManifestTable records one exported table document and its digest.
type ManifestTable struct {
	Name   string `yaml:"name"`
	File   string `yaml:"file"`
	Rows   int    `yaml:"rows"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// SigningBytes returns the canonical YAML encoding of the manifest with the
// signature cleared. This is the exact payload that gets signed.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}
