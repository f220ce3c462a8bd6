package security

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// BrokerCredentials is an API key/secret pair for one broker environment
// (e.g. "alpaca"/"paper"), resolved from whichever CredentialStore is
// configured. ExpiresAt is zero when the source has no expiry (Vault, or
// a live-environment FileSecretStore entry).
type BrokerCredentials struct {
	APIKey    string
	APISecret string
	ExpiresAt time.Time
}

// VaultKeyReader is the subset of pkg/vault.Client the resolver needs;
// declared here so pkg/security does not import pkg/vault directly and
// create a cycle with callers that wire both.
type VaultKeyReader interface {
	GetBrokerKeys(broker, environment string) (map[string]string, error)
}

// Resolver looks up broker credentials from Vault first, falling back to
// an encrypted local FileSecretStore when no Vault client is configured
// or Vault has no entry for the broker. Wired in by internal/broker's
// factory at Connect()-adjacent construction time.
type Resolver struct {
	vault    VaultKeyReader
	fallback *FileSecretStore
	logger   *logrus.Entry
}

// NewResolver builds a Resolver. Either argument may be nil; a nil vault
// skips straight to the fallback, a nil fallback means "vault only".
func NewResolver(vault VaultKeyReader, fallback *FileSecretStore) *Resolver {
	return &Resolver{vault: vault, fallback: fallback, logger: logrus.WithField("component", "credential_resolver")}
}

// Resolve returns the API key/secret for broker/environment, trying
// Vault before the local file store. When the fallback answers and its
// entry has an expiry and is within liveRotationWindow (48h) of it, a
// warning is logged. Only paper/sandbox/testnet entries carry an expiry
// (the 30-day TTL); live entries have none and never warn. The warning is
// there so an unattended process
// doesn't find out about a lapsed credential from a failed broker
// connect instead.
func (r *Resolver) Resolve(broker, environment string) (BrokerCredentials, error) {
	if r.vault != nil {
		if data, err := r.vault.GetBrokerKeys(broker, environment); err == nil {
			return BrokerCredentials{APIKey: data["api_key"], APISecret: data["secret_key"]}, nil
		}
	}
	if r.fallback != nil {
		creds, err := r.fallback.GetBrokerCredentials(broker, environment)
		if err != nil {
			return BrokerCredentials{}, fmt.Errorf("security: no credentials for %s/%s: %w", broker, environment, err)
		}
		if !creds.ExpiresAt.IsZero() && time.Now().After(creds.ExpiresAt.Add(-liveRotationWindow)) {
			r.logger.WithFields(logrus.Fields{"broker": broker, "environment": environment, "expires_at": creds.ExpiresAt}).
				Warn("broker credentials are approaching their rotation window")
		}
		return BrokerCredentials{APIKey: creds.APIKey, APISecret: creds.APISecret, ExpiresAt: creds.ExpiresAt}, nil
	}
	return BrokerCredentials{}, fmt.Errorf("security: no credential source configured for %s/%s", broker, environment)
}
