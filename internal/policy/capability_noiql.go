//go:build noiql

package policy

// LearningAvailable reports whether the iql policy is compiled in.
const LearningAvailable = false

func newIQL(Options) (Policy, error) {
	return nil, ErrCapabilityUnavailable
}
