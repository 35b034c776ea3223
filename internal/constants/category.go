package constants

// EffectCategory names an externally visible effect a receiving session manifests.
// The receiving game system alone decides what each category means.
type EffectCategory string

const (
	// EffectFlicker is the weakest manifestation.
	EffectFlicker EffectCategory = "flicker"

	// EffectDistortion is a moderate manifestation.
	EffectDistortion EffectCategory = "distortion"

	// EffectEcho replays the origin's signal in the receiving session.
	EffectEcho EffectCategory = "echo"

	// EffectRupture is the strongest manifestation.
	EffectRupture EffectCategory = "rupture"

	// EffectStatic is used when the originating signal was mostly noise.
	EffectStatic EffectCategory = "static"
)

// Valid returns true if the category is a recognized value.
func (c EffectCategory) Valid() bool {
	switch c {
	case EffectFlicker, EffectDistortion, EffectEcho, EffectRupture, EffectStatic:
		return true
	}
	return false
}

// String returns the string representation of the category.
func (c EffectCategory) String() string {
	return string(c)
}
