package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/armanrma7/rmbg/config"
	"github.com/armanrma7/rmbg/model"
)

// SegmentOptions configures one inference call.
type SegmentOptions struct {
	Model               string
	AlphaMatting        bool
	ForegroundThreshold float64
	BackgroundThreshold float64
	ErodeSize           int
}

// Segmenter is the external neural collaborator: given pixels, it returns a
// soft alpha matte at the same resolution. Implementations may internally
// receive either a mask or a full RGBA cutout from the backend and normalize
// it before returning.
type Segmenter interface {
	Segment(ctx context.Context, img *image.NRGBA, opts SegmentOptions) (*image.Gray, error)
}

// NormalizeMask converts whatever the inference backend returned into an
// alpha matte. Grayscale responses are used directly. RGBA cutouts yield
// their alpha channel. A mask delivered as an opaque RGB image (every alpha
// 255) yields its red channel.
func NormalizeMask(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}

	n := ToNRGBA(img)
	w := n.Bounds().Dx()
	h := n.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	channel := 3
	if !hasUsefulAlpha(n) {
		channel = 0
	}
	for y := 0; y < h; y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = row[x*4+channel]
		}
	}
	return out
}

func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// ModelRegistry tracks which model ids the backend may serve and performs
// thread-safe lazy initialization, once per model, guarded per key rather
// than by a single global lock.
type ModelRegistry struct {
	mu      sync.Mutex
	known   map[string]struct{}
	entries map[string]*registryEntry
	init    func(ctx context.Context, name string) error
}

type registryEntry struct {
	once sync.Once
	err  error
}

func NewModelRegistry(known []string, init func(ctx context.Context, name string) error) *ModelRegistry {
	set := make(map[string]struct{}, len(known))
	for _, name := range known {
		set[name] = struct{}{}
	}
	return &ModelRegistry{
		known:   set,
		entries: make(map[string]*registryEntry),
		init:    init,
	}
}

// Ensure validates the model id and runs its initialization exactly once.
// Concurrent callers for the same model block on the same init; callers for
// different models do not contend.
func (r *ModelRegistry) Ensure(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		if _, found := r.known[name]; !found {
			r.mu.Unlock()
			return model.NewError(model.ErrUnsupportedModel, "unknown model "+strconv.Quote(name))
		}
		e = &registryEntry{}
		r.entries[name] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		if r.init != nil {
			e.err = r.init(ctx, name)
		}
	})
	if e.err != nil {
		return model.WrapError(model.ErrUnsupportedModel, "model failed to initialize: "+name, e.err)
	}
	return nil
}

// HTTPSegmenter talks to an inference server over HTTP: the image is posted
// as multipart PNG and the response body is a PNG mask or cutout.
type HTTPSegmenter struct {
	baseURL  string
	client   *http.Client
	registry *ModelRegistry
}

func NewHTTPSegmenter(cfg *config.SegmenterConfig) *HTTPSegmenter {
	known := make([]string, 0, len(cfg.PresetModels)+len(cfg.ExtraModels)+1)
	for _, name := range cfg.PresetModels {
		known = append(known, name)
	}
	known = append(known, cfg.ExtraModels...)
	if cfg.FallbackModel != "" {
		known = append(known, cfg.FallbackModel)
	}

	s := &HTTPSegmenter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
	s.registry = NewModelRegistry(known, s.loadModel)
	return s
}

// loadModel asks the backend to load the model weights before first use.
func (s *HTTPSegmenter) loadModel(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/models/"+name+"/load", nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("load model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("load model %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *HTTPSegmenter) Segment(ctx context.Context, img *image.NRGBA, opts SegmentOptions) (*image.Gray, error) {
	if err := s.registry.Ensure(ctx, opts.Model); err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, img); err != nil {
		return nil, fmt.Errorf("encode inference input: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "input.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, &payload); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}
	_ = writer.WriteField("model", opts.Model)
	_ = writer.WriteField("alpha_matting", strconv.FormatBool(opts.AlphaMatting))
	if opts.AlphaMatting {
		_ = writer.WriteField("fg_threshold", strconv.FormatFloat(opts.ForegroundThreshold, 'f', 2, 64))
		_ = writer.WriteField("bg_threshold", strconv.FormatFloat(opts.BackgroundThreshold, 'f', 2, 64))
		_ = writer.WriteField("erode_size", strconv.Itoa(opts.ErodeSize))
	}
	_ = writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/segment", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segment request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("segment request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	decoded, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode inference output: %w", err)
	}
	return NormalizeMask(decoded), nil
}
