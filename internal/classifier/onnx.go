//go:build cgo

package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/gutlog/backend/internal/imaging"
	"github.com/gutlog/backend/pkg/logger"
)

// ONNXConfig locates an exported image classifier and the runtime library.
type ONNXConfig struct {
	ModelPath string
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string
	// InputName and OutputName default to the model's first input and output.
	InputName  string
	OutputName string
}

// ONNXScorer runs a single-input, single-output classifier through ONNX Runtime.
type ONNXScorer struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
	outputType  ort.TensorElementDataType
	outputSize  int
}

var envOnce sync.Once
var envErr error

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			envErr = ort.InitializeEnvironment()
		}
	})
	return envErr
}

func NewONNXScorer(cfg ONNXConfig) (*ONNXScorer, error) {
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}

	in, err := pickInfo(inputs, cfg.InputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := pickInfo(outputs, cfg.OutputName, "output")
	if err != nil {
		return nil, err
	}

	inputShape := concreteShape(in.Dimensions)
	if want := int64(imaging.InputSize * imaging.InputSize * imaging.Channels); inputShape.FlattenedSize() != want {
		return nil, fmt.Errorf("%w: model input %s has shape %v, want [1 %d %d %d]",
			ErrShapeMismatch, in.Name, in.Dimensions, imaging.InputSize, imaging.InputSize, imaging.Channels)
	}
	if in.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("%w: model input %s is %v, want float32", ErrShapeMismatch, in.Name, in.DataType)
	}

	switch out.DataType {
	case ort.TensorElementDataTypeFloat, ort.TensorElementDataTypeUint8:
	default:
		return nil, fmt.Errorf("%w: model output %s is %v, want float32 or uint8", ErrShapeMismatch, out.Name, out.DataType)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{in.Name}, []string{out.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	outputShape := concreteShape(out.Dimensions)

	logger.Info("ONNX model loaded",
		zap.String("path", cfg.ModelPath),
		zap.String("input", in.Name),
		zap.String("output", out.Name),
		zap.Int64("classes", outputShape.FlattenedSize()),
	)

	return &ONNXScorer{
		session:     session,
		inputShape:  inputShape,
		outputShape: outputShape,
		outputType:  out.DataType,
		outputSize:  int(outputShape.FlattenedSize()),
	}, nil
}

func (s *ONNXScorer) OutputSize() int {
	return s.outputSize
}

// NativeScale is 255 for uint8 outputs and 1 for float outputs, which
// exported classifiers use for softmax probabilities.
func (s *ONNXScorer) NativeScale() float64 {
	if s.outputType == ort.TensorElementDataTypeUint8 {
		return DefaultScoreScale
	}
	return 1
}

func (s *ONNXScorer) Score(ctx context.Context, input *imaging.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(input.Data)) != s.inputShape.FlattenedSize() {
		return nil, fmt.Errorf("%w: tensor has %d values, model wants %d", ErrShapeMismatch, len(input.Data), s.inputShape.FlattenedSize())
	}

	in, err := ort.NewTensor(s.inputShape, input.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	// The session is not safe for concurrent Run calls.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outputType == ort.TensorElementDataTypeUint8 {
		out, err := ort.NewEmptyTensor[uint8](s.outputShape)
		if err != nil {
			return nil, fmt.Errorf("create output tensor: %w", err)
		}
		defer out.Destroy()

		if err := s.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
			return nil, fmt.Errorf("run model: %w", err)
		}

		raw := out.GetData()
		scores := make([]float32, len(raw))
		for i, v := range raw {
			scores[i] = float32(v)
		}
		return scores, nil
	}

	out, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run model: %w", err)
	}

	return append([]float32(nil), out.GetData()...), nil
}

func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func pickInfo(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("%w: model declares no %s", ErrShapeMismatch, kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("%w: model has no %s named %q", ErrShapeMismatch, kind, name)
}

// concreteShape pins dynamic (negative) dimensions, in practice the batch, to 1.
func concreteShape(dims ort.Shape) ort.Shape {
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		if d < 1 {
			d = 1
		}
		shape[i] = d
	}
	return shape
}
