// Package hostkey manages the ED25519 key the SSH server presents to
// clients. The key is generated on first use and persisted in the data
// directory so clients can pin it.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// File names under the data directory.
const (
	PrivateFile = "ssh_host_ed25519_key"
	PublicFile  = "ssh_host_ed25519_key.pub"
)

// HostKey is the server's signing key and its public identifiers.
type HostKey struct {
	Signer      ssh.Signer
	PublicKey   ssh.PublicKey
	Fingerprint string // SHA256:... as printed by ssh-keygen -l
}

// Load reads the host key from dataDir. If the key file doesn't exist, a new
// key is generated and persisted.
func Load(dataDir string) (*HostKey, error) {
	privPath := filepath.Join(dataDir, PrivateFile)

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading host key: %w", err)
		}
		return generate(dataDir, privPath, filepath.Join(dataDir, PublicFile))
	}
	return parse(privPEM)
}

func generate(dir, privPath, pubPath string) (*HostKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling host key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}

	key, err := fromPrivate(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(key.PublicKey), 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}
	return key, nil
}

func parse(privPEM []byte) (*HostKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("no PEM block found in host key")
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	priv, ok := raw.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("host key is not ED25519")
	}
	return fromPrivate(priv)
}

func fromPrivate(priv ed25519.PrivateKey) (*HostKey, error) {
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating SSH signer: %w", err)
	}
	pub := signer.PublicKey()
	return &HostKey{
		Signer:      signer,
		PublicKey:   pub,
		Fingerprint: ssh.FingerprintSHA256(pub),
	}, nil
}
