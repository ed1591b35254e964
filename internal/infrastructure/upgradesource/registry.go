// Package upgradesource implements the connectors to upgrade package
// origins.
package upgradesource

import (
	"fmt"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Origin names, carried by the package's upgradeSource label.
const (
	OriginLocal = "local"
	OriginFile  = "file"
)

// Registry implements [domain.UpgradeSourceResolver] by origin name.
type Registry struct {
	Sources map[string]domain.UpgradeSource
	// Default is used for packages without an origin label.
	Default string
}

func (r *Registry) Resolve(pkg domain.Asset) (domain.UpgradeSource, error) {
	name := pkg.Label(domain.LabelUpgradeSource)
	if name == "" {
		name = r.Default
	}
	src, ok := r.Sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: package %q has unknown upgrade source %q", domain.ErrInvalidArgument, pkg.Key, name)
	}
	return src, nil
}
