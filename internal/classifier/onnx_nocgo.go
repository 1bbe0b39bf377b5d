//go:build !cgo

package classifier

import (
	"context"
	"errors"

	"github.com/gutlog/backend/internal/imaging"
)

// ErrONNXNotAvailable is returned when the binary was built without cgo.
var ErrONNXNotAvailable = errors.New("onnx scorer: not available (binary built without CGO support)")

type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
}

// ONNXScorer is a stub for non-cgo builds.
type ONNXScorer struct{}

func NewONNXScorer(_ ONNXConfig) (*ONNXScorer, error) {
	return nil, ErrONNXNotAvailable
}

func (s *ONNXScorer) OutputSize() int { return 0 }

func (s *ONNXScorer) NativeScale() float64 { return DefaultScoreScale }

func (s *ONNXScorer) Score(_ context.Context, _ *imaging.Tensor) ([]float32, error) {
	return nil, ErrONNXNotAvailable
}

func (s *ONNXScorer) Close() error { return nil }
