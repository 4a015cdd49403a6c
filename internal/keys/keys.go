// Package keys turns the configured relay key into the token clients must
// present as their licence key.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/matst80/rendezvous-relay/internal/obs"
)

// Provision returns the effective authorization token for raw.
//
// A base64 ed25519 private key (seed || public key) yields the base64 of its
// public half. "-" or "_" generates a fresh key pair and uses its public key.
// Anything else, including the empty string, is used verbatim; an empty
// token disables authorization.
func Provision(raw string) (string, error) {
	return provision(raw, rand.Reader)
}

func provision(raw string, random io.Reader) (string, error) {
	key := raw
	if sk, err := base64.StdEncoding.DecodeString(key); err == nil && len(sk) == ed25519.PrivateKeySize {
		obs.Info("relay.key.private", obs.Fields{})
		key = base64.StdEncoding.EncodeToString(sk[ed25519.PrivateKeySize/2:])
	}
	if key == "-" || key == "_" {
		pk, _, err := ed25519.GenerateKey(random)
		if err != nil {
			return "", fmt.Errorf("generate key pair: %w", err)
		}
		key = base64.StdEncoding.EncodeToString(pk)
	}
	if key != "" {
		obs.Info("relay.key", obs.Fields{"key": key})
	}
	return key, nil
}
