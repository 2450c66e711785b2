package classifier

import (
	"context"
	"encoding/gob"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/thyrook/boardsight/internal/board"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NetInputSide is the patch side the network expects.
const NetInputSide = 32

// PatchNet is a small convolutional network mapping a 32x32 grayscale cell
// to a probability over the 13 piece labels.
type PatchNet struct {
	// Graph
	g *gorgonia.ExprGraph

	// Input
	input *gorgonia.Node

	// Convolutional layers
	conv1W *gorgonia.Node
	conv1B *gorgonia.Node
	conv2W *gorgonia.Node
	conv2B *gorgonia.Node

	// Dense layers
	fc1W *gorgonia.Node
	fc1B *gorgonia.Node
	fc2W *gorgonia.Node
	fc2B *gorgonia.Node

	// Output
	output *gorgonia.Node

	// The tape machine is not reentrant.
	mu sync.Mutex
	vm gorgonia.VM

	hiddenSize int
}

// NewPatchNet creates a network with Glorot-initialized weights.
func NewPatchNet(hiddenSize int) (*PatchNet, error) {
	if hiddenSize <= 0 {
		hiddenSize = 128
	}
	g := gorgonia.NewGraph()

	input := gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(1, 1, NetInputSide, NetInputSide), gorgonia.WithName("input"))

	// Conv1: 1 -> 16 channels, 3x3 kernel
	conv1W := gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(16, 1, 3, 3), gorgonia.WithName("conv1_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	conv1B := gorgonia.NewTensor(g, tensor.Float64, 1, gorgonia.WithShape(16), gorgonia.WithName("conv1_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	// Conv2: 16 -> 32 channels, 3x3 kernel
	conv2W := gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(32, 16, 3, 3), gorgonia.WithName("conv2_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	conv2B := gorgonia.NewTensor(g, tensor.Float64, 1, gorgonia.WithShape(32), gorgonia.WithName("conv2_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	conv1, err := gorgonia.Conv2d(input, conv1W, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv1 failed: %w", err)
	}
	conv1 = gorgonia.Must(gorgonia.BroadcastAdd(conv1, conv1B, nil, []byte{0, 2, 3}))
	conv1 = gorgonia.Must(gorgonia.Rectify(conv1))
	pool1, err := gorgonia.MaxPool2D(conv1, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, fmt.Errorf("pool1 failed: %w", err)
	}

	conv2, err := gorgonia.Conv2d(pool1, conv2W, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv2 failed: %w", err)
	}
	conv2 = gorgonia.Must(gorgonia.BroadcastAdd(conv2, conv2B, nil, []byte{0, 2, 3}))
	conv2 = gorgonia.Must(gorgonia.Rectify(conv2))
	pool2, err := gorgonia.MaxPool2D(conv2, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, fmt.Errorf("pool2 failed: %w", err)
	}

	// Two 2x2 pools take 32x32 down to 8x8 over 32 channels.
	flatSize := 32 * (NetInputSide / 4) * (NetInputSide / 4)
	flat := gorgonia.Must(gorgonia.Reshape(pool2, tensor.Shape{1, flatSize}))

	fc1W := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(flatSize, hiddenSize), gorgonia.WithName("fc1_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	fc1B := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(hiddenSize), gorgonia.WithName("fc1_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	fc1 := gorgonia.Must(gorgonia.Mul(flat, fc1W))
	fc1 = gorgonia.Must(gorgonia.BroadcastAdd(fc1, fc1B, nil, []byte{0}))
	fc1 = gorgonia.Must(gorgonia.Rectify(fc1))

	fc2W := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(hiddenSize, board.NumPieces), gorgonia.WithName("fc2_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	fc2B := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(board.NumPieces), gorgonia.WithName("fc2_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	fc2 := gorgonia.Must(gorgonia.Mul(fc1, fc2W))
	fc2 = gorgonia.Must(gorgonia.BroadcastAdd(fc2, fc2B, nil, []byte{0}))

	logits := gorgonia.Must(gorgonia.Reshape(fc2, tensor.Shape{board.NumPieces}))
	output := gorgonia.Must(gorgonia.SoftMax(logits))

	return &PatchNet{
		g:          g,
		input:      input,
		conv1W:     conv1W,
		conv1B:     conv1B,
		conv2W:     conv2W,
		conv2B:     conv2B,
		fc1W:       fc1W,
		fc1B:       fc1B,
		fc2W:       fc2W,
		fc2B:       fc2B,
		output:     output,
		vm:         gorgonia.NewTapeMachine(g),
		hiddenSize: hiddenSize,
	}, nil
}

// Predict returns the 13 label probabilities for a 32x32 grayscale input
// in [0,1], row-major.
func (n *PatchNet) Predict(pixels []float64) ([]float64, error) {
	if len(pixels) != NetInputSide*NetInputSide {
		return nil, fmt.Errorf("invalid input size: expected %d, got %d", NetInputSide*NetInputSide, len(pixels))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	backing := make([]float64, len(pixels))
	copy(backing, pixels)
	inputTensor := tensor.New(
		tensor.WithShape(1, 1, NetInputSide, NetInputSide),
		tensor.WithBacking(backing),
	)

	if err := gorgonia.Let(n.input, inputTensor); err != nil {
		return nil, fmt.Errorf("failed to set input: %w", err)
	}

	defer n.vm.Reset()
	if err := n.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	outputValue := n.output.Value()
	if outputValue == nil {
		return nil, fmt.Errorf("output is nil")
	}

	probs := make([]float64, board.NumPieces)
	copy(probs, outputValue.Data().([]float64))
	return probs, nil
}

func (n *PatchNet) weights() []struct {
	name string
	node *gorgonia.Node
} {
	return []struct {
		name string
		node *gorgonia.Node
	}{
		{"conv1W", n.conv1W},
		{"conv1B", n.conv1B},
		{"conv2W", n.conv2W},
		{"conv2B", n.conv2B},
		{"fc1W", n.fc1W},
		{"fc1B", n.fc1B},
		{"fc2W", n.fc2W},
		{"fc2B", n.fc2B},
	}
}

// Save writes the weights as a gob stream of (shape, data) pairs.
func (n *PatchNet) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := gob.NewEncoder(f)
	for _, w := range n.weights() {
		val := w.node.Value()
		if val == nil {
			return fmt.Errorf("weight %s has no value", w.name)
		}

		if err := encoder.Encode(val.Shape()); err != nil {
			return fmt.Errorf("failed to encode %s shape: %w", w.name, err)
		}
		if err := encoder.Encode(val.Data().([]float64)); err != nil {
			return fmt.Errorf("failed to encode %s data: %w", w.name, err)
		}
	}
	return nil
}

// Load reads weights written by Save.
func (n *PatchNet) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	n.mu.Lock()
	defer n.mu.Unlock()

	decoder := gob.NewDecoder(f)
	for _, w := range n.weights() {
		var shape tensor.Shape
		var data []float64

		if err := decoder.Decode(&shape); err != nil {
			return fmt.Errorf("failed to decode %s shape: %w", w.name, err)
		}
		if err := decoder.Decode(&data); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", w.name, err)
		}
		if !shape.Eq(w.node.Shape()) {
			return fmt.Errorf("weight %s: expected shape %v, got %v", w.name, w.node.Shape(), shape)
		}

		t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
		if err := gorgonia.Let(w.node, t); err != nil {
			return fmt.Errorf("failed to set %s: %w", w.name, err)
		}
	}
	return nil
}

// Close releases the VM.
func (n *PatchNet) Close() error {
	return n.vm.Close()
}

// NetClassifier adapts a PatchNet to the Classifier interface.
type NetClassifier struct {
	net *PatchNet
}

// NewNetClassifier builds a network and loads weights from modelPath.
func NewNetClassifier(modelPath string, hiddenSize int) (*NetClassifier, error) {
	net, err := NewPatchNet(hiddenSize)
	if err != nil {
		return nil, err
	}
	if err := net.Load(modelPath); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return &NetClassifier{net: net}, nil
}

// Classify returns the most probable label and its probability.
func (c *NetClassifier) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	if err := ctx.Err(); err != nil {
		return board.Empty, 0, err
	}
	probs, err := c.net.Predict(grayVector(patch, NetInputSide))
	if err != nil {
		return board.Empty, 0, err
	}
	idx, p := argmax(probs)
	return board.Piece(idx), p, nil
}

// Close releases the network.
func (c *NetClassifier) Close() error {
	return c.net.Close()
}
