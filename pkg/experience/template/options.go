package template

// MissingAction specifies how to handle placeholders whose path does not resolve.
type MissingAction int

const (
	// MissingKeep keeps the placeholder as-is when the path is not found.
	// This is the default behavior.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError returns an *UndefinedVariableError.
	MissingError
)

// Option configures an Interpolator.
type Option func(*Interpolator)

// WithMissingAction sets how unresolved placeholders are handled.
//
// Default: MissingKeep
//
// Example:
//
//	in := NewInterpolator(WithMissingAction(MissingError))
//	_, err := in.Interpolate("{{ traits.email }}", nil)
//	// err: "undefined variable: traits.email"
func WithMissingAction(action MissingAction) Option {
	return func(in *Interpolator) {
		in.missingAction = action
	}
}
