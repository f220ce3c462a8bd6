// Package vault wraps HashiCorp Vault's KV v2 engine for broker API
// credential storage, read by internal/broker's factory at connect time.
package vault

import (
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/sirupsen/logrus"
)

// Client wraps the Vault API client.
type Client struct {
	client *vault.Client
	logger *logrus.Entry
}

// Config holds Vault configuration.
type Config struct {
	Address string
	Token   string
}

// NewClient creates a new Vault client and verifies it is reachable and
// unsealed before returning.
func NewClient(config Config) (*Client, error) {
	if config.Address == "" {
		config.Address = os.Getenv("VAULT_ADDR")
		if config.Address == "" {
			config.Address = "http://localhost:8200"
		}
	}
	if config.Token == "" {
		config.Token = os.Getenv("VAULT_TOKEN")
		if config.Token == "" {
			config.Token = "root-token"
		}
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(config.Token)

	health, err := client.Sys().Health()
	if err != nil {
		return nil, fmt.Errorf("vault is not healthy: %w", err)
	}
	if health.Sealed {
		return nil, fmt.Errorf("vault is sealed")
	}

	logger := logrus.WithField("component", "vault")
	logger.WithField("address", config.Address).Info("connected to vault")

	return &Client{client: client, logger: logger}, nil
}

// StoreBrokerKeys stores an API key/secret pair for a broker under
// secret/data/brokers/<broker>_<environment>.
func (c *Client) StoreBrokerKeys(broker, environment, apiKey, secretKey string, extras map[string]interface{}) error {
	path := fmt.Sprintf("secret/data/brokers/%s_%s", broker, environment)

	payload := map[string]interface{}{
		"api_key":     apiKey,
		"secret_key":  secretKey,
		"broker":      broker,
		"environment": environment,
	}
	for k, v := range extras {
		payload[k] = v
	}

	_, err := c.client.Logical().Write(path, map[string]interface{}{"data": payload})
	if err != nil {
		return fmt.Errorf("failed to store keys: %w", err)
	}

	c.logger.WithFields(logrus.Fields{"broker": broker, "environment": environment}).Info("stored broker credentials")
	return nil
}

// GetBrokerKeys retrieves the API key/secret pair for a broker.
func (c *Client) GetBrokerKeys(broker, environment string) (map[string]string, error) {
	path := fmt.Sprintf("secret/data/brokers/%s_%s", broker, environment)

	secret, err := c.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no keys found for %s %s", broker, environment)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	result := make(map[string]string)
	for k, v := range data {
		if str, ok := v.(string); ok {
			result[k] = str
		}
	}
	return result, nil
}

// ListBrokerKeys lists all broker credential entries.
func (c *Client) ListBrokerKeys() ([]string, error) {
	secret, err := c.client.Logical().List("secret/metadata/brokers")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return []string{}, nil
	}

	keysInterface, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return []string{}, nil
	}

	keys := make([]string, 0, len(keysInterface))
	for _, k := range keysInterface {
		if str, ok := k.(string); ok {
			keys = append(keys, str)
		}
	}
	return keys, nil
}

// DeleteBrokerKeys deletes a broker's stored credentials.
func (c *Client) DeleteBrokerKeys(broker, environment string) error {
	path := fmt.Sprintf("secret/metadata/brokers/%s_%s", broker, environment)

	if _, err := c.client.Logical().Delete(path); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}

	c.logger.WithFields(logrus.Fields{"broker": broker, "environment": environment}).Info("deleted broker credentials")
	return nil
}

// EnableKV2 enables the KV v2 secret engine at the default "secret/"
// mount if it is not already enabled.
func (c *Client) EnableKV2() error {
	mounts, err := c.client.Sys().ListMounts()
	if err != nil {
		return fmt.Errorf("failed to list mounts: %w", err)
	}

	if _, ok := mounts["secret/"]; ok {
		c.logger.Debug("kv v2 secret engine already enabled")
		return nil
	}

	if err := c.client.Sys().Mount("secret", &vault.MountInput{Type: "kv-v2"}); err != nil {
		return fmt.Errorf("failed to enable KV v2: %w", err)
	}

	c.logger.Info("enabled kv v2 secret engine")
	return nil
}
