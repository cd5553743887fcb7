package packager

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
	"gopkg.in/yaml.v3"
)

const (
	envAgeSecretKey = "AGE_SECRET_KEY"
	envAgePublicKey = "AGE_PUBLIC_KEY"

	signatureAlgorithm = "ed25519"
	// SignatureSuffix is appended to an archive path to name its detached signature.
	SignatureSuffix = ".sig"
)

// Signer signs and verifies archives with an age-derived Ed25519 key pair.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// NewSignerFromEnv initialises a Signer from AGE_SECRET_KEY and/or AGE_PUBLIC_KEY.
// AGE_PUBLIC_KEY is a base64-encoded Ed25519 public key derived from the age secret key seed.
func NewSignerFromEnv() (*Signer, error) {
	return NewSigner(os.Getenv(envAgeSecretKey), os.Getenv(envAgePublicKey))
}

// NewSigner builds a Signer from an age secret key, a base64 public key, or both.
func NewSigner(secret, pub string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	pub = strings.TrimSpace(pub)
	if secret == "" && pub == "" {
		return nil, fmt.Errorf("%s or %s must be set", envAgeSecretKey, envAgePublicKey)
	}

	var (
		privateKey ed25519.PrivateKey
		publicKey  ed25519.PublicKey
		recipient  string
	)

	if secret != "" {
		seed, err := decodeAgeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
		}
		privateKey = ed25519.NewKeyFromSeed(seed)
		publicKey = ed25519.PublicKey(privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secret); err == nil {
			if r := identity.Recipient(); r != nil {
				recipient = r.String()
			}
		}
	}

	if pub != "" {
		decoded, err := base64.StdEncoding.DecodeString(pub)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envAgePublicKey, err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%s must decode to %d bytes, got %d", envAgePublicKey, ed25519.PublicKeySize, l)
		}
		if publicKey == nil {
			publicKey = ed25519.PublicKey(decoded)
		} else if !bytes.Equal(publicKey, decoded) {
			return nil, errors.New("AGE_PUBLIC_KEY does not match AGE_SECRET_KEY")
		}
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		recipient:  recipient,
	}, nil
}

// Signature is the detached signature document written next to an archive.
type Signature struct {
	Algorithm string `yaml:"algorithm"`
	Recipient string `yaml:"recipient,omitempty"`
	PublicKey string `yaml:"public_key"`
	SHA256    string `yaml:"sha256"`
	Signature string `yaml:"signature"`
}

// Sign produces a detached signature over the archive bytes.
func (s *Signer) Sign(archive []byte) (*Signature, error) {
	if s == nil {
		return nil, errors.New("nil signer")
	}
	if len(s.privateKey) == 0 {
		return nil, errors.New("signer configured without private key")
	}
	sum := sha256.Sum256(archive)
	sig := ed25519.Sign(s.privateKey, archive)
	return &Signature{
		Algorithm: signatureAlgorithm,
		Recipient: s.recipient,
		PublicKey: s.PublicKeyBase64(),
		SHA256:    hex.EncodeToString(sum[:]),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks sig against the archive bytes. When the signer has a public
// key configured, the signature must have been made with it.
func (s *Signer) Verify(archive []byte, sig *Signature) error {
	if sig == nil {
		return errors.New("nil signature")
	}
	if sig.Algorithm != signatureAlgorithm {
		return fmt.Errorf("unsupported signature algorithm %q", sig.Algorithm)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.Signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sigBytes))
	}

	var key ed25519.PublicKey
	if s != nil {
		key = s.publicKey
	}
	if sig.PublicKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(sig.PublicKey)
		if err != nil {
			return fmt.Errorf("decode signature public key: %w", err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return fmt.Errorf("signature public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
		}
		if key != nil && !bytes.Equal(key, decoded) {
			return errors.New("archive signed by unexpected key")
		}
		if key == nil {
			key = ed25519.PublicKey(decoded)
		}
	}
	if key == nil {
		return errors.New("no public key available for verification")
	}

	sum := sha256.Sum256(archive)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), sig.SHA256) {
		return errors.New("sha256 mismatch")
	}
	if !ed25519.Verify(key, archive, sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

// WriteSignatureFile signs archive and writes the YAML document to path.
func (s *Signer) WriteSignatureFile(path string, archive []byte) error {
	sig, err := s.Sign(archive)
	if err != nil {
		return fmt.Errorf("sign archive: %w", err)
	}
	data, err := yaml.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}
	return nil
}

// VerifyFiles verifies the archive at archivePath against the signature at sigPath.
func (s *Signer) VerifyFiles(archivePath, sigPath string) error {
	archive, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	raw, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	var sig Signature
	if err := yaml.Unmarshal(raw, &sig); err != nil {
		return fmt.Errorf("unmarshal signature: %w", err)
	}
	return s.Verify(archive, &sig)
}

// PublicKeyBase64 returns the configured Ed25519 public key in base64 form.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient returns the age recipient string if the signer was initialised with AGE_SECRET_KEY.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
