// Package secrets resolves IMAP credentials. Passwords never appear in
// the config file; accounts name a provider and a reference and the
// provider turns the reference into a username/password pair.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailtriage"

// Credentials is one resolved username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Provider resolves a config-level secret reference.
type Provider interface {
	Resolve(reference string) (Credentials, error)
}

// ForName returns the provider for a config provider name.
func ForName(name string) (Provider, error) {
	switch name {
	case "keyring":
		return &KeyringProvider{}, nil
	case "env":
		return &EnvProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", name)
	}
}

// KeyringProvider reads from the OS credential store. A reference
// "work" resolves the keys "work.username" and "work.password" under
// the mailtriage service.
type KeyringProvider struct{}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailtriage/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtriage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func (p *KeyringProvider) Resolve(reference string) (Credentials, error) {
	ring, err := openKeyring()
	if err != nil {
		return Credentials{}, err
	}

	user, err := ring.Get(reference + ".username")
	if err != nil {
		return Credentials{}, fmt.Errorf("getting credential %q: %w", reference+".username", err)
	}
	pass, err := ring.Get(reference + ".password")
	if err != nil {
		return Credentials{}, fmt.Errorf("getting credential %q: %w", reference+".password", err)
	}

	return Credentials{Username: string(user.Data), Password: string(pass.Data)}, nil
}

// EnvProvider reads MAILTRIAGE_<REF>_USERNAME and
// MAILTRIAGE_<REF>_PASSWORD, with the reference uppercased and
// non-alphanumeric runs mapped to underscores.
type EnvProvider struct{}

func (p *EnvProvider) Resolve(reference string) (Credentials, error) {
	prefix := "MAILTRIAGE_" + envKey(reference) + "_"

	user, ok := os.LookupEnv(prefix + "USERNAME")
	if !ok {
		return Credentials{}, fmt.Errorf("environment variable %sUSERNAME not set", prefix)
	}
	pass, ok := os.LookupEnv(prefix + "PASSWORD")
	if !ok {
		return Credentials{}, fmt.Errorf("environment variable %sPASSWORD not set", prefix)
	}

	return Credentials{Username: user, Password: pass}, nil
}

func envKey(reference string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(reference) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
