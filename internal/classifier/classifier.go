// Package classifier maps a normalized image tensor to one of a fixed set of
// labels using an opaque scoring model.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gutlog/backend/internal/imaging"
)

// ErrShapeMismatch means the model and label list disagree. It is a startup
// fault; a Classifier is never built around a mismatched pair.
var ErrShapeMismatch = errors.New("model output does not match label list")

// DefaultScoreScale is the divisor for models that emit uint8-style 0..255 scores.
const DefaultScoreScale = 255.0

// AutoScale asks New to take the divisor from the scorer's native output range.
const AutoScale = 0.0

// Scorer runs the model. Score must return OutputSize() raw class scores.
type Scorer interface {
	Score(ctx context.Context, input *imaging.Tensor) ([]float32, error)
	OutputSize() int
}

// NativeScaler is implemented by scorers that know the range of their raw
// scores: 255 for quantized outputs, 1 for probabilities.
type NativeScaler interface {
	NativeScale() float64
}

type Result struct {
	Label      string
	Index      int
	Score      float32
	Confidence float64
}

type Classifier struct {
	scorer Scorer
	labels []string
	scale  float64
}

// New binds a scorer to its labels. scale divides the winning score into a
// confidence. AutoScale uses the scorer's NativeScale, or DefaultScoreScale
// when the scorer does not report one.
func New(scorer Scorer, labels []string, scale float64) (*Classifier, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrShapeMismatch)
	}
	if n := scorer.OutputSize(); n != len(labels) {
		return nil, fmt.Errorf("%w: model emits %d scores, label file has %d lines", ErrShapeMismatch, n, len(labels))
	}
	if scale == AutoScale {
		scale = nativeScale(scorer)
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("invalid score scale %v", scale)
	}

	return &Classifier{
		scorer: scorer,
		labels: append([]string(nil), labels...),
		scale:  scale,
	}, nil
}

func nativeScale(scorer Scorer) float64 {
	if ns, ok := scorer.(NativeScaler); ok {
		if scale := ns.NativeScale(); scale > 0 {
			return scale
		}
	}
	return DefaultScoreScale
}

// Scale is the divisor in effect.
func (c *Classifier) Scale() float64 {
	return c.scale
}

func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Classify picks the highest-scoring label. Ties go to the lowest index.
func (c *Classifier) Classify(ctx context.Context, input *imaging.Tensor) (*Result, error) {
	scores, err := c.scorer.Score(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("score image: %w", err)
	}
	if len(scores) != len(c.labels) {
		return nil, fmt.Errorf("%w: model emitted %d scores for %d labels", ErrShapeMismatch, len(scores), len(c.labels))
	}

	top := argmax(scores)
	return &Result{
		Label:      c.labels[top],
		Index:      top,
		Score:      scores[top],
		Confidence: c.confidence(scores[top]),
	}, nil
}

func (c *Classifier) confidence(score float32) float64 {
	conf := float64(score) / c.scale
	switch {
	case math.IsNaN(conf) || conf < 0:
		return 0
	case conf > 1:
		return 1
	}
	return conf
}

func argmax(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
