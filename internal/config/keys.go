package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// API keys resolve environment-first, then the ~/.vaani/credentials dotenv
// file. The original keychain integration is out of scope; the credentials
// file is the durable store.

const (
	credentialsFile = "credentials"

	envOpenAIKey    = "VAANI_OPENAI_API_KEY"
	envAnthropicKey = "VAANI_ANTHROPIC_API_KEY"
	envHistoryKey   = "VAANI_HISTORY_KEY"
)

// OpenAIKey returns the transcription provider API key.
func OpenAIKey() (string, error) {
	return apiKey(envOpenAIKey, "openai")
}

// AnthropicKey returns the enhancement provider API key.
func AnthropicKey() (string, error) {
	return apiKey(envAnthropicKey, "anthropic")
}

func apiKey(envName, provider string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v, nil
	}
	creds, err := readCredentials()
	if err != nil {
		return "", err
	}
	if v := strings.TrimSpace(creds[envName]); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s api key not found: set %s or add it to the credentials file", provider, envName)
}

// HistoryKey returns the 32-byte history encryption key, generating and
// persisting one on first use.
func HistoryKey() ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(envHistoryKey)); v != "" {
		return decodeHistoryKey(v)
	}

	creds, err := readCredentials()
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(creds[envHistoryKey]); v != "" {
		return decodeHistoryKey(v)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate history key: %w", err)
	}
	creds[envHistoryKey] = hex.EncodeToString(key)
	if err := writeCredentials(creds); err != nil {
		return nil, err
	}
	return key, nil
}

func decodeHistoryKey(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode history key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("history key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func credentialsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, credentialsFile), nil
}

func readCredentials() (map[string]string, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}
	creds, err := godotenv.Read(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials %q: %w", path, err)
	}
	return creds, nil
}

func writeCredentials(creds map[string]string) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := godotenv.Write(creds, path); err != nil {
		return fmt.Errorf("write credentials %q: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
