// Package recognize adapts an external face classifier and applies
// temporal verification so a single lucky match never marks anyone
// present.
package recognize

import (
	"errors"
	"image"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// ErrModelUnavailable indicates the classifier has no trained model
// loaded.
var ErrModelUnavailable = errors.New("recognizer model unavailable")

// Prediction is the raw output of a classifier: the nearest enrolled
// label and its distance. Lower distance means a closer match.
type Prediction struct {
	Label    string
	Distance float64
}

// Classifier is the model backend. Implementations wrap whatever
// recognition engine is deployed on the appliance.
type Classifier interface {
	// Predict returns the nearest label for a preprocessed sample.
	Predict(sample *image.Gray) (Prediction, error)

	// Ready reports whether a trained model is loaded.
	Ready() bool
}

// Result is a thresholded recognition outcome. An empty RollNo means
// the face was not recognised with enough confidence.
type Result struct {
	RollNo   string  `json:"roll_no,omitempty"`
	Distance float64 `json:"distance"`
}

// Known reports whether the result identifies an enrolled person.
func (r Result) Known() bool {
	return r.RollNo != ""
}

// Adapter wraps a Classifier with a distance threshold. The enhanced
// preprocessing pipeline produces tighter clusters, so it gets a
// stricter threshold than the basic one.
type Adapter struct {
	cls       Classifier
	threshold float64
}

// NewAdapter builds an adapter using the threshold matching the
// configured preprocessing pipeline.
func NewAdapter(cls Classifier, cfg *config.PipelineConfig) *Adapter {
	threshold := cfg.GetBasicThreshold()
	if cfg.GetEnhancedPipeline() {
		threshold = cfg.GetEnhancedThreshold()
	}
	return &Adapter{cls: cls, threshold: threshold}
}

// Threshold returns the active acceptance distance.
func (a *Adapter) Threshold() float64 {
	return a.threshold
}

// Ready reports whether the underlying classifier has a trained model.
func (a *Adapter) Ready() bool {
	return a.cls.Ready()
}

// Recognize runs one sample through the classifier. Classifier faults
// degrade to an unknown result so the stream keeps running.
func (a *Adapter) Recognize(sample *image.Gray) Result {
	_, result, _ := a.Evaluate(sample)
	return result
}

// Evaluate returns both the raw prediction and the thresholded result.
// The raw label is what temporal verification keys on: a borderline
// face keeps feeding the same window whether or not each individual
// frame clears the threshold. ok is false when the classifier produced
// nothing usable.
func (a *Adapter) Evaluate(sample *image.Gray) (p Prediction, res Result, ok bool) {
	if !a.cls.Ready() {
		return Prediction{}, Result{}, false
	}

	// A backend panic costs one observation, not the stream.
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("recognize: classifier panic, treating observation as unknown: %v", r)
			p, res, ok = Prediction{}, Result{}, false
		}
	}()

	pred, err := a.cls.Predict(sample)
	if err != nil {
		monitoring.Logf("recognize: classifier fault: %v", err)
		return Prediction{}, Result{}, false
	}

	if pred.Distance >= a.threshold {
		// Too far from any enrolled face. Keep the distance for
		// diagnostics but report no identity.
		return pred, Result{Distance: pred.Distance}, true
	}

	return pred, Result{RollNo: pred.Label, Distance: pred.Distance}, true
}
