// Package featureflag toggles server behaviors from configuration
// without a redeploy. A nil FeatureFlag behaves like an empty one.
package featureflag

// FeatureFlag is the set of enabled flags.
type FeatureFlag map[Flag]struct{}

// New returns a feature flag set initialized with the given flag names.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag, len(flags))
	for _, f := range flags {
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

// IfSet runs do when the flag is set.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if _, ok := f[flag]; !ok {
		return
	}
	do()
}

// IfNotSet runs do when the flag is not set.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if _, ok := f[flag]; ok {
		return
	}
	do()
}
