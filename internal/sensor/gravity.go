package sensor

// Vec3 is a three-axis value in raw accelerometer units.
type Vec3 struct {
	X, Y, Z float64
}

// GravityFilter separates the constant gravity component from transient
// motion in the accelerometer stream using a per-axis exponential
// low-pass: g = alpha*g + (1-alpha)*sample. The first sample primes the
// estimate directly so the filter does not ramp up from zero.
type GravityFilter struct {
	alpha   float64
	gravity Vec3
	primed  bool
}

// DefaultGravityAlpha matches the smoothing the band's companion app
// applies before motion display.
const DefaultGravityAlpha = 0.8

// NewGravityFilter creates a filter with smoothing factor alpha in
// (0, 1); larger alpha means a slower-moving gravity estimate.
func NewGravityFilter(alpha float64) *GravityFilter {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultGravityAlpha
	}
	return &GravityFilter{alpha: alpha}
}

// Update feeds one sample and returns the current gravity estimate and
// the motion remainder (sample minus gravity).
func (f *GravityFilter) Update(a AccelReading) (gravity, motion Vec3) {
	s := Vec3{X: float64(a.X), Y: float64(a.Y), Z: float64(a.Z)}
	if !f.primed {
		f.gravity = s
		f.primed = true
	} else {
		f.gravity.X = f.alpha*f.gravity.X + (1-f.alpha)*s.X
		f.gravity.Y = f.alpha*f.gravity.Y + (1-f.alpha)*s.Y
		f.gravity.Z = f.alpha*f.gravity.Z + (1-f.alpha)*s.Z
	}
	motion = Vec3{X: s.X - f.gravity.X, Y: s.Y - f.gravity.Y, Z: s.Z - f.gravity.Z}
	return f.gravity, motion
}

// Reset clears the gravity estimate; the next sample primes it again.
func (f *GravityFilter) Reset() {
	f.gravity = Vec3{}
	f.primed = false
}
