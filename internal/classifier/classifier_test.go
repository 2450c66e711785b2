package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/thyrook/boardsight/internal/board"
)

// shapeImage draws a filled rectangle of fill over bg.
func shapeImage(size int, bg, fill uint8, shape image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := bg
			if image.Pt(x, y).In(shape) {
				v = fill
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func plain(size int, v uint8) *image.Gray {
	return shapeImage(size, v, v, image.Rectangle{})
}

func newTestTemplates() *TemplateClassifier {
	tc := NewTemplateClassifier(32)
	tc.Add(board.WhiteRook, "wR", shapeImage(32, 180, 250, image.Rect(8, 8, 24, 24)))
	tc.Add(board.BlackRook, "bR", shapeImage(32, 180, 20, image.Rect(8, 8, 24, 24)))
	tc.Add(board.WhiteKnight, "wN", shapeImage(32, 180, 250, image.Rect(4, 14, 28, 18)))
	return tc
}

func TestTemplateClassifier(t *testing.T) {
	tc := newTestTemplates()

	tests := []struct {
		name     string
		patch    image.Image
		expected board.Piece
		minConf  float64
	}{
		{"white square piece", shapeImage(64, 180, 250, image.Rect(16, 16, 48, 48)), board.WhiteRook, 0.9},
		{"black square piece", shapeImage(64, 180, 20, image.Rect(16, 16, 48, 48)), board.BlackRook, 0.9},
		{"white bar piece", shapeImage(64, 180, 250, image.Rect(8, 28, 56, 36)), board.WhiteKnight, 0.8},
		{"plain light square", plain(64, 180), board.Empty, 0.5},
		{"plain dark square", plain(64, 90), board.Empty, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			piece, conf, err := tc.Classify(context.Background(), tt.patch)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if piece != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, piece)
			}
			if conf < tt.minConf {
				t.Errorf("Expected confidence >= %.2f, got %.3f", tt.minConf, conf)
			}
		})
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestLoadTemplateDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "wR.png"), shapeImage(40, 180, 250, image.Rect(10, 10, 30, 30)))
	writePNG(t, filepath.Join(dir, "bR_dark.png"), shapeImage(40, 90, 20, image.Rect(10, 10, 30, 30)))
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	tc, err := LoadTemplateDir(dir, 32)
	if err != nil {
		t.Fatalf("LoadTemplateDir failed: %v", err)
	}
	if tc.Len() != 2 {
		t.Errorf("Expected 2 templates, got %d", tc.Len())
	}

	writePNG(t, filepath.Join(dir, "zz.png"), plain(40, 10))
	if _, err := LoadTemplateDir(dir, 32); err == nil {
		t.Error("Expected error for unknown label file name")
	}
}

func TestPatchNetPredict(t *testing.T) {
	net, err := NewPatchNet(32)
	if err != nil {
		t.Fatalf("NewPatchNet failed: %v", err)
	}
	defer net.Close()

	input := make([]float64, NetInputSide*NetInputSide)
	for i := range input {
		input[i] = float64(i%17) / 16
	}

	probs, err := net.Predict(input)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(probs) != board.NumPieces {
		t.Fatalf("Expected %d outputs, got %d", board.NumPieces, len(probs))
	}
	sum := 0.0
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("Probability out of range: %f", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("Expected probabilities to sum to 1, got %f", sum)
	}

	if _, err := net.Predict(input[:10]); err == nil {
		t.Error("Expected error for short input")
	}
}

func TestPatchNetSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patchnet.gob")

	src, err := NewPatchNet(16)
	if err != nil {
		t.Fatalf("NewPatchNet failed: %v", err)
	}
	defer src.Close()
	if err := src.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	input := make([]float64, NetInputSide*NetInputSide)
	for i := range input {
		input[i] = float64((i*7)%32) / 31
	}
	want, err := src.Predict(input)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	clf, err := NewNetClassifier(path, 16)
	if err != nil {
		t.Fatalf("NewNetClassifier failed: %v", err)
	}
	defer clf.Close()

	got, err := clf.net.Predict(input)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-9 {
			t.Errorf("output %d: Expected %f, got %f", i, want[i], got[i])
		}
	}

	if _, err := NewNetClassifier(path, 24); err == nil {
		t.Error("Expected shape mismatch error for a different hidden size")
	}
}

func TestRemoteClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/png" {
			http.Error(w, "bad content type "+ct, http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if _, err := png.Decode(bytes.NewReader(body)); err != nil {
			http.Error(w, "bad image", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"label": "bQ", "confidence": 0.87})
	}))
	defer srv.Close()

	clf := NewRemoteClassifier(srv.URL+"/", 2*time.Second)
	piece, conf, err := clf.Classify(context.Background(), plain(32, 100))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if piece != board.BlackQueen {
		t.Errorf("Expected bQ, got %v", piece)
	}
	if conf != 0.87 {
		t.Errorf("Expected confidence 0.87, got %f", conf)
	}
}

func TestRemoteClassifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clf := NewRemoteClassifier(srv.URL, time.Second)
	if _, _, err := clf.Classify(context.Background(), plain(32, 100)); err == nil {
		t.Error("Expected error for 503 response")
	}
}

type countingClassifier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClassifier) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return board.WhitePawn, 0.8, nil
}

type mapStore struct {
	mu sync.Mutex
	m  map[uint64]board.Label
}

func (s *mapStore) Get(key uint64) (board.Label, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.m[key]
	return l, ok, nil
}

func (s *mapStore) Put(key uint64, label board.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = label
	return nil
}

func TestCachedClassifier(t *testing.T) {
	next := &countingClassifier{}
	cached := NewCached(next, &mapStore{m: make(map[uint64]board.Label)}, nil)

	patch := shapeImage(48, 180, 250, image.Rect(12, 12, 36, 36))
	for i := 0; i < 3; i++ {
		piece, conf, err := cached.Classify(context.Background(), patch)
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if piece != board.WhitePawn || conf != 0.8 {
			t.Errorf("Expected wP 0.8, got %v %f", piece, conf)
		}
	}
	if next.calls != 1 {
		t.Errorf("Expected 1 underlying call, got %d", next.calls)
	}

	if _, _, err := cached.Classify(context.Background(), plain(48, 30)); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if next.calls != 2 {
		t.Errorf("Expected a miss for a different patch, got %d calls", next.calls)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := shapeImage(64, 180, 250, image.Rect(16, 16, 48, 48))
	b := shapeImage(64, 180, 250, image.Rect(16, 16, 48, 48))
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("Identical patches should share a fingerprint")
	}
	if Fingerprint(a) == Fingerprint(plain(64, 180)) {
		t.Error("Different patches should not share a fingerprint")
	}
}

func TestNewFromOptions(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "wR.png"), shapeImage(40, 180, 250, image.Rect(10, 10, 30, 30)))

	c, closeFn, err := New(Options{
		Backend:      BackendTemplate,
		TemplateDir:  dir,
		TemplateSide: 32,
		CachePath:    filepath.Join(dir, "labels.db"),
		CacheSize:    10,
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := c.(*Cached); !ok {
		t.Errorf("Expected cached classifier, got %T", c)
	}

	patch := shapeImage(64, 180, 250, image.Rect(16, 16, 48, 48))
	for i := 0; i < 2; i++ {
		piece, _, err := c.Classify(context.Background(), patch)
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if piece != board.WhiteRook {
			t.Errorf("Expected %v, got %v", board.WhiteRook, piece)
		}
	}
	if err := closeFn(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	remote, closeFn, err := New(Options{Backend: BackendRemote, RemoteURL: "http://127.0.0.1:1"}, nil)
	if err != nil {
		t.Fatalf("New remote failed: %v", err)
	}
	if _, ok := remote.(*RemoteClassifier); !ok {
		t.Errorf("Expected remote classifier, got %T", remote)
	}
	closeFn()

	if _, _, err := New(Options{Backend: "oracle"}, nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
	if _, _, err := New(Options{Backend: BackendNet, ModelPath: filepath.Join(dir, "missing.gob")}, nil); err == nil {
		t.Error("Expected error for missing model")
	}
}
