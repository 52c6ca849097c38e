package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"time"

	"github.com/armanrma7/rmbg/config"
	"github.com/armanrma7/rmbg/model"
	"github.com/armanrma7/rmbg/utils"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // register decoder
)

// Presets.
const (
	PresetFast     = "fast"
	PresetBalanced = "balanced"
	PresetQuality  = "quality"
)

// Sizing modes.
const (
	SizePreview = "preview"
	SizeAuto    = "auto"
	SizeFull    = "full"
)

// ProcessingConfig is the immutable per-request parameter set. Build it with
// NormalizeConfig; stages only ever read it.
type ProcessingConfig struct {
	Preset     string
	Model      string // explicit override; empty means the preset's model
	SizeMode   string
	Threshold  float64 // foreground threshold 0..1, -1 when unset
	Reverse    bool
	Refine     bool
	Contract   int
	Expand     int
	BlurSigma  float64
	BoostDark  bool
	Despill    bool
	Crop       bool
	CropMargin int
}

// NormalizeConfig validates the enum fields and clamps every numeric field
// into range, filling the refinement parameters from the pipeline defaults.
func NormalizeConfig(raw ProcessingConfig, cfg *config.PipelineConfig) (ProcessingConfig, error) {
	opts := raw

	switch opts.Preset {
	case PresetFast, PresetBalanced, PresetQuality:
	case "":
		opts.Preset = PresetFast
	default:
		return ProcessingConfig{}, fmt.Errorf("unknown preset %q", opts.Preset)
	}

	switch opts.SizeMode {
	case SizePreview, SizeAuto, SizeFull:
	case "":
		opts.SizeMode = SizeAuto
	default:
		return ProcessingConfig{}, fmt.Errorf("unknown size mode %q", opts.SizeMode)
	}

	if opts.Threshold < 0 {
		opts.Threshold = -1
	} else if opts.Threshold > 1 {
		opts.Threshold = 1
	}

	opts.Contract = clampInt(cfg.RefineContract, 0, 64)
	opts.Expand = clampInt(cfg.RefineExpand, 0, 64)
	opts.BlurSigma = cfg.RefineBlurSigma
	opts.BoostDark = cfg.RefineBoostDark
	opts.CropMargin = clampInt(opts.CropMargin, 0, cfg.MaxCropMargin)

	return opts, nil
}

// Pipeline runs the full cutout sequence: decode, resize for inference,
// segment, refine, composite, despill, crop, encode, cache. Stage work
// happens on a bounded worker pool so that the number of full-resolution
// buffers held at once stays capped.
type Pipeline struct {
	cfg       *config.PipelineConfig
	segCfg    *config.SegmenterConfig
	segmenter Segmenter
	memory    *MemoryCache
	shared    *RedisCache // optional
	semaphore chan struct{}
}

func NewPipeline(cfg *config.Config, segmenter Segmenter, memory *MemoryCache, shared *RedisCache) *Pipeline {
	return &Pipeline{
		cfg:       &cfg.Pipeline,
		segCfg:    &cfg.Segmenter,
		segmenter: segmenter,
		memory:    memory,
		shared:    shared,
		semaphore: make(chan struct{}, cfg.Pipeline.MaxConcurrent),
	}
}

// ResolveModel returns the model id a request will use.
func (p *Pipeline) ResolveModel(opts ProcessingConfig) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.segCfg.PresetModels[opts.Preset]
}

func (p *Pipeline) inferenceSide(opts ProcessingConfig) int {
	var side int
	switch opts.SizeMode {
	case SizePreview:
		side = p.cfg.PresetSides[PresetFast]
	case SizeFull:
		side = p.cfg.MaxSide
	default:
		side = p.cfg.PresetSides[opts.Preset]
	}
	if side <= 0 {
		side = p.cfg.MaxSide
	}
	return side
}

// CacheKey returns the content-addressable key for (raw, opts): a SHA-256
// over the upload bytes plus the canonical encoding of every effective
// parameter that influences the output.
func (p *Pipeline) CacheKey(raw []byte, opts ProcessingConfig) string {
	return utils.CacheKey(raw, p.canonicalParams(opts))
}

func (p *Pipeline) canonicalParams(opts ProcessingConfig) string {
	return fmt.Sprintf(
		"v1|preset=%s|model=%s|size=%s|side=%d|threshold=%.2f|reverse=%t|refine=%t|contract=%d|expand=%d|sigma=%.2f|boost=%t|despill=%t|crop=%t|margin=%d",
		opts.Preset, p.ResolveModel(opts), opts.SizeMode, p.inferenceSide(opts),
		opts.Threshold, opts.Reverse, opts.Refine, opts.Contract, opts.Expand,
		opts.BlurSigma, opts.BoostDark, opts.Despill, opts.Crop, opts.CropMargin)
}

// Process turns raw upload bytes into an encoded PNG cutout. On a cache hit
// the segmenter is never invoked. A cache entry is written only after the
// encode succeeded; failures never leave partial entries behind.
func (p *Pipeline) Process(ctx context.Context, raw []byte, opts ProcessingConfig) (data []byte, hash string, err error) {
	if len(raw) == 0 {
		return nil, "", model.NewError(model.ErrEmptyInput, "empty upload")
	}

	key := p.CacheKey(raw, opts)

	if cached, ok := p.memory.Get(key); ok {
		utils.Logger.Info("cache hit", zap.String("hash", key), zap.String("tier", "memory"))
		return cached, key, nil
	}
	if p.shared != nil {
		cached, err := p.shared.Get(ctx, key)
		if err != nil {
			utils.Logger.Warn("shared cache read failed", zap.Error(err))
		} else if cached != nil {
			utils.Logger.Info("cache hit", zap.String("hash", key), zap.String("tier", "redis"))
			p.memory.Put(key, cached)
			return cached, key, nil
		}
	}

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-time.After(p.cfg.QueueTimeout):
		return nil, "", model.NewError(model.ErrQueueFull, "processing queue full, try again later")
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	start := time.Now()

	decoded, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", model.WrapError(model.ErrDecodeFailure, "not a valid image", err)
	}
	orig := ToNRGBA(decoded)
	width := orig.Bounds().Dx()
	height := orig.Bounds().Dy()
	if width == 0 || height == 0 {
		return nil, "", model.NewError(model.ErrDecodeFailure, "image has zero dimensions")
	}
	if width > p.cfg.MaxSide || height > p.cfg.MaxSide {
		return nil, "", model.NewError(model.ErrResourceExceeded,
			fmt.Sprintf("image %dx%d exceeds the %dpx limit", width, height, p.cfg.MaxSide))
	}

	small := ResizeWithinMax(orig, p.inferenceSide(opts))

	mask, err := p.segmentWithFallback(ctx, small, opts)
	if err != nil {
		return nil, "", err
	}

	if opts.Reverse {
		mask = InvertMatte(mask)
	}
	mask = UpscaleMask(mask, width, height)
	if opts.Refine {
		mask = RefineMatte(mask, opts.Contract, opts.Expand, opts.BlurSigma, opts.BoostDark)
	}

	out, err := ApplyMask(orig, mask)
	if err != nil {
		// pure stages only fail on contract violations; fatal, no retry
		return nil, "", fmt.Errorf("composite: %w", err)
	}
	if opts.Despill {
		out = Despill(out)
	}
	if opts.Crop {
		out = CropToContent(out, opts.CropMargin)
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, out); err != nil {
		return nil, "", fmt.Errorf("encode output: %w", err)
	}
	data = buf.Bytes()

	p.memory.Put(key, data)
	if p.shared != nil {
		if err := p.shared.Put(ctx, key, data); err != nil {
			utils.Logger.Warn("shared cache write failed", zap.Error(err))
		}
	}

	utils.Logger.Info("image processed",
		zap.String("hash", key),
		zap.String("format", format),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("output_width", out.Bounds().Dx()),
		zap.Int("output_height", out.Bounds().Dy()),
		zap.Int("output_bytes", len(data)),
		zap.String("preset", opts.Preset),
		zap.String("model", p.ResolveModel(opts)),
		zap.Duration("duration", time.Since(start)))

	return data, key, nil
}

// segmentWithFallback calls the segmenter once and, on failure or malformed
// output, retries exactly once with the cheapest always-available model and
// matting disabled. An unsupported model id is surfaced directly: retrying
// would mask a caller mistake.
func (p *Pipeline) segmentWithFallback(ctx context.Context, img *image.NRGBA, opts ProcessingConfig) (*image.Gray, error) {
	segOpts := SegmentOptions{
		Model:               p.ResolveModel(opts),
		AlphaMatting:        p.segCfg.AlphaMatting,
		ForegroundThreshold: p.segCfg.ForegroundThreshold,
		BackgroundThreshold: p.segCfg.BackgroundThreshold,
		ErodeSize:           p.segCfg.ErodeSize,
	}
	if opts.Threshold >= 0 {
		segOpts.AlphaMatting = true
		segOpts.ForegroundThreshold = opts.Threshold
	}

	mask, err := p.segmenter.Segment(ctx, img, segOpts)
	if err == nil {
		if err = p.checkMask(mask, img); err == nil {
			return mask, nil
		}
	}
	if kind, ok := model.KindOf(err); ok && kind == model.ErrUnsupportedModel {
		return nil, err
	}

	utils.Logger.Warn("segmentation failed, retrying with fallback model",
		zap.String("model", segOpts.Model),
		zap.String("fallback", p.segCfg.FallbackModel),
		zap.Error(err))

	mask, ferr := p.segmenter.Segment(ctx, img, SegmentOptions{Model: p.segCfg.FallbackModel})
	if ferr == nil {
		ferr = p.checkMask(mask, img)
	}
	if ferr != nil {
		return nil, model.WrapError(model.ErrSegmentationFailure,
			fmt.Sprintf("segmentation failed (primary: %v)", err), ferr)
	}
	return mask, nil
}

func (p *Pipeline) checkMask(mask *image.Gray, img *image.NRGBA) error {
	if mask == nil {
		return fmt.Errorf("segmenter returned no mask")
	}
	if mask.Bounds().Dx() != img.Bounds().Dx() || mask.Bounds().Dy() != img.Bounds().Dy() {
		return fmt.Errorf("segmenter returned %dx%d mask for %dx%d input",
			mask.Bounds().Dx(), mask.Bounds().Dy(), img.Bounds().Dx(), img.Bounds().Dy())
	}
	return nil
}
