package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const scheme = "secret://"

// ErrInvalidReference reports a malformed secret:// reference.
var ErrInvalidReference = errors.New("secrets: invalid reference")

// Ref addresses one secret. Its textual form is secret://NAME with optional version and
// project query parameters, for example secret://stripe_api_key?version=3.
type Ref struct {
	Name    string
	Version string
	Project string
}

// ParseRef parses the textual form.
func ParseRef(raw string) (Ref, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), scheme)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q lacks the %s scheme", ErrInvalidReference, raw, scheme)
	}
	name, rawQuery, _ := strings.Cut(rest, "?")
	name = strings.Trim(name, "/")
	if name == "" {
		return Ref{}, fmt.Errorf("%w: %q has no secret name", ErrInvalidReference, raw)
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, raw, err)
	}
	return Ref{
		Name:    name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// String returns the canonical form without version or project.
func (r Ref) String() string {
	return scheme + r.Name
}

func resourceName(project, name, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
}
