package service

import (
	"context"
	"errors"
	"time"

	"github.com/FarazKhanAI/ImageRestoration/config"
	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ProcessRequest 一次修复请求。Mask 非空时优先于 Strokes
type ProcessRequest struct {
	Image   []byte
	Mask    []byte
	Strokes []model.StrokeSample
	Params  model.Parameters
}

// ProcessOutput 修复输出，Original 为缩放后的输入图
type ProcessOutput struct {
	Original gocv.Mat
	Result   *RestorationResult
	Scale    float64
}

func (o *ProcessOutput) Close() {
	o.Original.Close()
	if o.Result != nil {
		o.Result.Close()
	}
}

// RestorationService 负责并发控制、解码与大图缩放，再交给 Restorer
type RestorationService struct {
	restorer     *Restorer
	semaphore    chan struct{}
	queueTimeout time.Duration
	maxDimension int
}

func NewRestorationService(cfg *config.RestorationConfig) *RestorationService {
	maxConcurrent := max(cfg.MaxConcurrent, 1)
	return &RestorationService{
		restorer: NewRestorer(RestorerOptions{
			DefaultBrushRadius: cfg.DefaultBrushSize,
			Patch: PatchOptions{
				PatchSize:     cfg.PatchSize,
				SearchRadius:  cfg.PatchSearchRadius,
				MaxIterations: cfg.PatchMaxIterations,
			},
			MultiscaleLevels: cfg.MultiscaleLevels,
		}),
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: time.Duration(cfg.QueueTimeout) * time.Second,
		maxDimension: cfg.MaxDimension,
	}
}

// Restorer 返回底层修复流水线
func (s *RestorationService) Restorer() *Restorer {
	return s.restorer
}

// Process 处理一次修复请求
func (s *RestorationService) Process(ctx context.Context, req ProcessRequest) (*ProcessOutput, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	img, err := DecodeImage(req.Image)
	if err != nil {
		return nil, &RestorationError{Op: "decode", Reason: "could not read image", Err: err}
	}

	width, height := img.Cols(), img.Rows()
	scaled, scale := smartResize(img, s.maxDimension)
	img.Close()
	if scale != 1 {
		utils.Logger.Info("large image downscaled",
			zap.Int("width", width),
			zap.Int("height", height),
			zap.Float64("scale", scale))
	}

	var result *RestorationResult
	if len(req.Mask) > 0 {
		maskImg, merr := DecodeMask(req.Mask)
		if merr != nil {
			// 掩码文件损坏时按无掩码处理
			utils.Logger.Warn("invalid mask file, ignoring", zap.Error(merr))
			result, err = s.restorer.Restore(scaled, nil, req.Params)
		} else {
			result, err = s.restorer.RestoreWithMask(scaled, maskImg, req.Params)
			maskImg.Close()
		}
	} else {
		result, err = s.restorer.Restore(scaled, model.ScaleStrokes(req.Strokes, scale), req.Params)
	}
	if err != nil {
		scaled.Close()
		return nil, err
	}

	return &ProcessOutput{Original: scaled, Result: result, Scale: scale}, nil
}

// BuildMask 在 rows x cols 画布上构建掩码，用于掩码测试接口
func (s *RestorationService) BuildMask(rows, cols int, strokes []model.StrokeSample) Mask {
	return s.restorer.Masks().Build(rows, cols, strokes)
}

func (s *RestorationService) acquire(ctx context.Context) (func(), error) {
	release := func() { <-s.semaphore }
	select {
	case s.semaphore <- struct{}{}:
		return release, nil
	default:
	}

	// 并发控制
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrQueueFull
		}
		return nil, ctx.Err()
	}
}
