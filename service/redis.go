package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FarazKhanAI/ImageRestoration/config"
	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// 掩码记录头：rows、cols 各 4 字节大端
const maskHeaderSize = 8

type RedisService struct {
	client  *redis.Client
	ttl     time.Duration
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// nil writer/reader 只用于 EncodeAll/DecodeAll，不会返回错误
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ := zstd.NewReader(nil)

	return &RedisService{
		client:  client,
		ttl:     cfg.TTL,
		encoder: encoder,
		decoder: decoder,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func resultKey(md5, digest string) string {
	return "restore:" + md5 + ":" + digest
}

func maskKey(id string) string {
	return "mask:" + id
}

// GetResult 从缓存获取修复结果
func (s *RedisService) GetResult(ctx context.Context, md5, digest string) (*model.CachedResult, error) {
	data, err := s.client.Get(ctx, resultKey(md5, digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.CachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal cached result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetResult 设置修复结果到缓存
func (s *RedisService) SetResult(ctx context.Context, md5, digest string, result *model.CachedResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, resultKey(md5, digest), data, s.ttl).Err()
}

// SaveMask 以 zstd 压缩保存单通道掩码
func (s *RedisService) SaveMask(ctx context.Context, id string, mask gocv.Mat) error {
	if mask.Empty() || mask.Channels() != 1 {
		return fmt.Errorf("mask must be a non-empty single channel raster")
	}
	raw, err := mask.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("read mask: %w", err)
	}

	record := make([]byte, maskHeaderSize, maskHeaderSize+len(raw))
	binary.BigEndian.PutUint32(record[0:4], uint32(mask.Rows()))
	binary.BigEndian.PutUint32(record[4:8], uint32(mask.Cols()))
	record = append(record, raw...)

	compressed := s.encoder.EncodeAll(record, nil)
	utils.Logger.Debug("mask stored",
		zap.String("id", id),
		zap.Int("raw_bytes", len(record)),
		zap.Int("compressed_bytes", len(compressed)))

	return s.client.Set(ctx, maskKey(id), compressed, s.ttl).Err()
}

// GetMask 读取掩码，不存在时返回 (空 Mat, false, nil)
func (s *RedisService) GetMask(ctx context.Context, id string) (gocv.Mat, bool, error) {
	compressed, err := s.client.Get(ctx, maskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return gocv.NewMat(), false, nil
		}
		return gocv.NewMat(), false, err
	}

	record, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return gocv.NewMat(), false, fmt.Errorf("decompress mask: %w", err)
	}
	if len(record) < maskHeaderSize {
		return gocv.NewMat(), false, fmt.Errorf("mask record too short")
	}

	rows := int(binary.BigEndian.Uint32(record[0:4]))
	cols := int(binary.BigEndian.Uint32(record[4:8]))
	pix := record[maskHeaderSize:]
	if rows <= 0 || cols <= 0 || len(pix) != rows*cols {
		return gocv.NewMat(), false, fmt.Errorf("mask record corrupt: %dx%d with %d bytes", cols, rows, len(pix))
	}

	mask, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.NewMat(), false, err
	}
	defer mask.Close()
	// NewMatFromBytes 共享切片内存
	return mask.Clone(), true, nil
}

func (s *RedisService) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.client.Close()
}
