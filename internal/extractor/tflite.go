package extractor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/patchwork-go/internal/cpuspec"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/logger"
)

// TFLiteBackbone runs a TensorFlow Lite image model. The model must take one
// float32 [1, H, W, C] input and produce one float32 output.
type TFLiteBackbone struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	options     *tflite.InterpreterOptions
	inputShape  []int
	outputShape []int
}

// NewTFLiteBackbone loads the model at path. threads=0 picks a count from the CPU.
func NewTFLiteBackbone(path string, threads int) (*TFLiteBackbone, error) {
	start := time.Now()
	log := GetLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("extractor").
			Category(errors.CategoryModelLoad).
			FileContext(path).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("extractor").
			Category(errors.CategoryModelLoad).
			Context("model_path", path).
			Context("model_size_mb", len(data)/1024/1024).
			Build()
	}

	threads = cpuspec.Workers(threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	b := &TFLiteBackbone{model: model, options: options}
	b.interpreter = tflite.NewInterpreter(model, options)
	if b.interpreter == nil {
		b.Close()
		return nil, modelError("cannot create interpreter", path)
	}
	if status := b.interpreter.AllocateTensors(); status != tflite.OK {
		b.Close()
		return nil, modelError("tensor allocation failed", path)
	}

	in := b.interpreter.GetInputTensor(0)
	out := b.interpreter.GetOutputTensor(0)
	if in == nil || out == nil {
		b.Close()
		return nil, modelError("model has no input or output tensor", path)
	}
	if in.Type() != tflite.Float32 || out.Type() != tflite.Float32 {
		b.Close()
		return nil, modelError(fmt.Sprintf("tensor types %v -> %v, want float32", in.Type(), out.Type()), path)
	}
	if in.NumDims() != 4 || in.Dim(0) != 1 {
		b.Close()
		return nil, modelError(fmt.Sprintf("input shape %v, want [1 H W C]", tensorShape(in)), path)
	}
	b.inputShape = tensorShape(in)[1:]
	b.outputShape = tensorShape(out)
	if len(b.outputShape) > 1 && b.outputShape[0] == 1 {
		b.outputShape = b.outputShape[1:]
	}

	// the model bytes have been copied by TFLite
	runtime.GC()

	log.Info("feature backbone initialized",
		logger.String("model", path),
		logger.Int("threads", threads),
		logger.String("input_shape", fmt.Sprint(b.inputShape)),
		logger.String("output_shape", fmt.Sprint(b.outputShape)),
		logger.Duration("duration", time.Since(start)))
	return b, nil
}

func tensorShape(t *tflite.Tensor) []int {
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

func modelError(msg, path string) error {
	return errors.Newf("%s", msg).
		Component("extractor").
		Category(errors.CategoryModelLoad).
		Context("model_path", path).
		Build()
}

// InputShape implements Backbone.
func (b *TFLiteBackbone) InputShape() []int { return slices.Clone(b.inputShape) }

// OutputShape implements Backbone.
func (b *TFLiteBackbone) OutputShape() []int { return slices.Clone(b.outputShape) }

// Run implements Backbone. Calls are serialized on the single interpreter.
func (b *TFLiteBackbone) Run(ctx context.Context, item []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	in := b.interpreter.GetInputTensor(0)
	if n := len(in.Float32s()); n != len(item) {
		return nil, errors.Newf("extractor: item of %d values for input of %d", len(item), n).
			Component("extractor").
			Category(errors.CategoryModel).
			Build()
	}
	copy(in.Float32s(), item)

	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("extractor").
			Category(errors.CategoryModel).
			Build()
	}
	return slices.Clone(b.interpreter.GetOutputTensor(0).Float32s()), nil
}

// Close releases the interpreter and the model.
func (b *TFLiteBackbone) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interpreter != nil {
		b.interpreter.Delete()
		b.interpreter = nil
	}
	if b.options != nil {
		b.options.Delete()
		b.options = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
}
