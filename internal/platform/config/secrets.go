package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const secretScheme = "secret://"

// SecretResolver resolves secret:// references, typically against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errNoSecretResolver = errors.New("secret resolver not configured")

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets, sorted.
func (e *MissingSecretsError) Names() []string {
	return slices.Clone(e.names)
}

// RedactedNames returns short hashes of the missing names, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	slices.Sort(out)
	return out
}

// secretField is a config string that may hold a secret:// reference.
type secretField struct {
	name  string
	value *string
}

func (c *Config) secretFields() []secretField {
	return []secretField{
		{"PSP.StripeAPIKey", &c.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &c.PSP.StripeWebhookSecret},
		{"Redis.Password", &c.Redis.Password},
	}
}

// resolveSecrets replaces references in place and returns the required names left empty.
func (c *Config) resolveSecrets(ctx context.Context, resolver SecretResolver, required []string) ([]string, error) {
	resolved := make(map[string]bool)
	for _, f := range c.secretFields() {
		ref := strings.TrimSpace(*f.value)
		if strings.HasPrefix(ref, secretScheme) {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errNoSecretResolver}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*f.value = strings.TrimSpace(value)
		}
		resolved[f.name] = *f.value != ""
	}

	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name != "" && !resolved[name] && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing, nil
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
