// Package catalog holds the system menu versions a payload can target.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	defaultNumbers = []string{"4.3", "4.2", "4.1", "4.0", "3.5", "3.4", "3.3", "3.2", "3.1", "3.0"}
	defaultRegions = []string{"u", "e", "j", "k"}
)

// Version is a system menu version paired with its single character region code.
type Version struct {
	Number string
	Region string
}

// Token joins the number and region the way the payload constructor expects (e.g. "4.3u").
func (v Version) Token() string {
	return v.Number + v.Region
}

func (v Version) String() string {
	return v.Token()
}

// ParseToken splits a token such as "4.3u" into its number and region.
func ParseToken(token string) (Version, error) {
	token = strings.TrimSpace(token)
	if len(token) < 2 {
		return Version{}, fmt.Errorf("invalid version token %q", token)
	}
	number := token[:len(token)-1]
	region := strings.ToLower(token[len(token)-1:])
	if strings.ContainsAny(region, "0123456789.") {
		return Version{}, fmt.Errorf("version token %q is missing a region", token)
	}
	return Version{Number: number, Region: region}, nil
}

// Lister reports the version tokens supported by a payload constructor.
type Lister interface {
	SupportedVersions(ctx context.Context) ([]string, error)
}

// Catalog is the fixed set of supported versions. It is read-only once loaded.
type Catalog struct {
	versions []Version
	index    map[Version]struct{}
}

// Load queries the lister once and builds a Catalog from its tokens.
func Load(ctx context.Context, lister Lister) (*Catalog, error) {
	if lister == nil {
		return nil, errors.New("version lister is required")
	}
	tokens, err := lister.SupportedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list supported versions: %w", err)
	}
	return FromTokens(tokens)
}

// FromTokens builds a Catalog from version tokens, dropping duplicates.
func FromTokens(tokens []string) (*Catalog, error) {
	c := &Catalog{index: make(map[Version]struct{}, len(tokens))}
	for _, raw := range tokens {
		v, err := ParseToken(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := c.index[v]; ok {
			continue
		}
		c.index[v] = struct{}{}
		c.versions = append(c.versions, v)
	}
	if len(c.versions) == 0 {
		return nil, errors.New("catalog has no versions")
	}
	return c, nil
}

// DefaultTokens returns every number/region combination known to the system menu exploit.
func DefaultTokens() []string {
	tokens := make([]string, 0, len(defaultNumbers)*len(defaultRegions))
	for _, n := range defaultNumbers {
		for _, r := range defaultRegions {
			tokens = append(tokens, n+r)
		}
	}
	return tokens
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := FromTokens(DefaultTokens())
	if err != nil {
		panic(err)
	}
	return c
}

type fileFormat struct {
	Versions []string `yaml:"versions"`
}

// LoadFile reads a YAML document with a top-level "versions" list of tokens.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal catalog file: %w", err)
	}
	if len(doc.Versions) == 0 {
		return nil, fmt.Errorf("catalog file %q lists no versions", path)
	}
	return doc.Versions, nil
}

// Supported returns the supported versions in load order.
func (c *Catalog) Supported() []Version {
	out := make([]Version, len(c.versions))
	copy(out, c.versions)
	return out
}

// Tokens returns the supported version tokens in load order.
func (c *Catalog) Tokens() []string {
	out := make([]string, 0, len(c.versions))
	for _, v := range c.versions {
		out = append(out, v.Token())
	}
	return out
}

// Numbers returns the distinct version numbers in load order.
func (c *Catalog) Numbers() []string {
	return c.distinct(func(v Version) string { return v.Number })
}

// Regions returns the distinct region codes in load order.
func (c *Catalog) Regions() []string {
	return c.distinct(func(v Version) string { return v.Region })
}

func (c *Catalog) distinct(field func(Version) string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range c.versions {
		f := field(v)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// IsSupported reports whether the number/region pair is in the catalog. The
// pair is matched as given, so "4." with "3u" is not "4.3" with "u".
func (c *Catalog) IsSupported(number, region string) bool {
	_, ok := c.index[Version{Number: number, Region: strings.ToLower(region)}]
	return ok
}

// Check classifies a possibly incomplete pair. A pair with an empty part is
// neither valid nor invalid.
func (c *Catalog) Check(number, region string) (valid, invalid bool) {
	if number == "" || region == "" {
		return false, false
	}
	ok := c.IsSupported(number, region)
	return ok, !ok
}
