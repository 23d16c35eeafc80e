package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference is a parsed secret://name?version=N&project=P URI. sm:// is accepted as an alias.
type reference struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

func parseReference(ref string) (reference, error) {
	ref = normaliseScheme(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return reference{
		Canonical: "secret://" + name,
		Secret:    name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func normaliseScheme(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		return "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	return ref
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

// maskReference keeps secret names out of metric labels.
func maskReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:6])
}
