package domain

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// UpgradeRecord is one discrete change unit of an upgrade package. Two
// records with the same Key are the same change regardless of the other
// fields.
type UpgradeRecord struct {
	Key  string    `json:"key" yaml:"key"`
	Kind AssetKind `json:"kind" yaml:"kind"`
	// Version is the record's priority marker within the package.
	Version  int    `json:"version,omitempty" yaml:"version,omitempty"`
	FullPath string `json:"fullPath" yaml:"fullPath"`
	// ProductKey scopes direct saves. Other records are scoped under the
	// package's product.
	ProductKey string `json:"productKey,omitempty" yaml:"productKey,omitempty"`
}

// UpgradeTuple is the payload of one upgrade package.
type UpgradeTuple struct {
	ProductKey string `json:"productKey" yaml:"productKey"`
	// DirectSaves are applied unconditionally, independent of environment.
	DirectSaves []UpgradeRecord `json:"directSaves" yaml:"directSaves"`
	// VersionChangedTemplates differ in content version from what is
	// currently stored.
	VersionChangedTemplates []UpgradeRecord `json:"versionChangedTemplates" yaml:"versionChangedTemplates"`
	// EnforceUpgradeTemplates reapply even without a version delta.
	EnforceUpgradeTemplates []UpgradeRecord `json:"enforceUpgradeTemplates" yaml:"enforceUpgradeTemplates"`
}

// StageRecords returns the deduplicated records that roll out to an
// environment: version-changed templates followed by enforced ones.
func (t UpgradeTuple) StageRecords() []UpgradeRecord {
	return MergeUpgradeRecords(t.VersionChangedTemplates, t.EnforceUpgradeTemplates)
}

// StageKeys returns the keys of [UpgradeTuple.StageRecords].
func (t UpgradeTuple) StageKeys() []string {
	records := t.StageRecords()
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	return keys
}

// MergeUpgradeRecords concatenates the lists, keeping the first record
// seen for each key. Input order is preserved.
func MergeUpgradeRecords(lists ...[]UpgradeRecord) []UpgradeRecord {
	seen := make(map[string]struct{})
	var out []UpgradeRecord
	for _, list := range lists {
		for _, r := range list {
			if _, ok := seen[r.Key]; ok {
				continue
			}
			seen[r.Key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// EnvDeployment is the composition of one environment rollout.
type EnvDeployment struct {
	EnvID EnvironmentID `json:"envId"`
	// MapperDeployment holds one deployment per redeployed mapper.
	MapperDeployment []AssetID `json:"mapperDeployment"`
	// SystemDeployments holds the bulk system template deployments.
	SystemDeployments []AssetID `json:"systemDeployments"`
	// MapperDraft lists changed mappers that were never released and
	// therefore were not deployed.
	MapperDraft []string `json:"mapperDraft"`
}

// Nested returns every nested deployment id, mapper deployments first.
func (d EnvDeployment) Nested() []AssetID {
	out := make([]AssetID, 0, len(d.MapperDeployment)+len(d.SystemDeployments))
	out = append(out, d.MapperDeployment...)
	return append(out, d.SystemDeployments...)
}

// Empty reports whether the rollout created no nested deployment.
func (d EnvDeployment) Empty() bool {
	return len(d.MapperDeployment) == 0 && len(d.SystemDeployments) == 0
}

// ParseTemplateVersion normalizes a package version label by stripping a
// leading "v" or "V". Labels that are not semantic versions are kept as
// they are; only ordering depends on semver.
func ParseTemplateVersion(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	if v == "" {
		return "", fmt.Errorf("%w: empty template version", ErrInvalidArgument)
	}
	return v, nil
}

// CompareTemplateVersions orders two normalized versions. Unparsable
// versions sort before parsable ones.
func CompareTemplateVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
