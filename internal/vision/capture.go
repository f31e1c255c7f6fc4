package vision

import "image"

// Default number of samples collected when enrolling a person.
const DefaultSampleTarget = 50

// poseInstructions are cycled through evenly across the sample target
// so the enrolled set covers a range of head orientations.
var poseInstructions = []string{
	"look straight at the camera",
	"turn your head slightly left",
	"turn your head slightly right",
	"tilt your head up slightly",
	"tilt your head down slightly",
}

// CaptureSession collects quality-gated, preprocessed face samples for
// enrolling a new person. Not safe for concurrent use.
type CaptureSession struct {
	gate    *QualityGate
	pre     *Preprocessor
	target  int
	samples []*image.Gray
}

// NewCaptureSession starts an enrollment session. A target of zero or
// less uses DefaultSampleTarget.
func NewCaptureSession(gate *QualityGate, pre *Preprocessor, target int) *CaptureSession {
	if target <= 0 {
		target = DefaultSampleTarget
	}
	return &CaptureSession{gate: gate, pre: pre, target: target}
}

// Offer submits one observation. It returns whether the sample was
// accepted and, if not, the gate's rejection reason.
func (s *CaptureSession) Offer(obs FaceObservation) (bool, string) {
	if s.Done() {
		return false, "session complete"
	}

	score := s.gate.Assess(obs)
	if !score.Accepted {
		return false, score.Reason
	}

	s.samples = append(s.samples, s.pre.Prepare(obs.Crop))
	return true, ""
}

// Instruction returns the pose prompt for the current phase of the
// session.
func (s *CaptureSession) Instruction() string {
	if s.Done() {
		return "enrollment complete"
	}
	phase := len(s.samples) * len(poseInstructions) / s.target
	if phase >= len(poseInstructions) {
		phase = len(poseInstructions) - 1
	}
	return poseInstructions[phase]
}

// Progress returns collected and target sample counts.
func (s *CaptureSession) Progress() (collected, target int) {
	return len(s.samples), s.target
}

// Done reports whether the sample target has been reached.
func (s *CaptureSession) Done() bool {
	return len(s.samples) >= s.target
}

// Samples returns the collected preprocessed samples.
func (s *CaptureSession) Samples() []*image.Gray {
	return s.samples
}
