package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Restoration RestorationConfig `mapstructure:"restoration"`
	PresetsFile string            `mapstructure:"presets_file"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	LogLevel     string        `mapstructure:"log_level"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`
	UploadDir         string   `mapstructure:"upload_dir"`
	RawDir            string   `mapstructure:"raw_dir"`
	MaskDir           string   `mapstructure:"mask_dir"`
	ProcessedDir      string   `mapstructure:"processed_dir"`
	AllowedTypes      []string `mapstructure:"allowed_types"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type RestorationConfig struct {
	MaxDimension       int  `mapstructure:"max_dimension"`
	JPEGQuality        int  `mapstructure:"jpeg_quality"`
	DefaultBrushSize   int  `mapstructure:"default_brush_size"`
	MaxConcurrent      int  `mapstructure:"max_concurrent"`
	QueueTimeout       int  `mapstructure:"queue_timeout"`
	CleanupTempFiles   bool `mapstructure:"cleanup_temp_files"`
	PatchSize          int  `mapstructure:"patch_size"`
	PatchSearchRadius  int  `mapstructure:"patch_search_radius"`
	PatchMaxIterations int  `mapstructure:"patch_max_iterations"`
	MultiscaleLevels   int  `mapstructure:"multiscale_levels"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 环境变量覆盖，例如 RESTORATION_REDIS_ADDR
	v.SetEnvPrefix("restoration")
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

// EnsureDirs 创建上传、掩码与结果目录
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Upload.UploadDir, c.Upload.RawDir, c.Upload.MaskDir, c.Upload.ProcessedDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.log_level", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 16*1024*1024)
	v.SetDefault("upload.upload_dir", "./uploads")
	v.SetDefault("upload.raw_dir", "./uploads/raw")
	v.SetDefault("upload.mask_dir", "./uploads/masks")
	v.SetDefault("upload.processed_dir", "./uploads/processed")
	v.SetDefault("upload.allowed_types", defaultAllowedTypes)
	v.SetDefault("upload.allowed_extensions", defaultAllowedExtensions)

	v.SetDefault("restoration.max_dimension", 2000)
	v.SetDefault("restoration.jpeg_quality", 95)
	v.SetDefault("restoration.default_brush_size", 20)
	v.SetDefault("restoration.max_concurrent", 3)
	v.SetDefault("restoration.queue_timeout", 30)
	v.SetDefault("restoration.cleanup_temp_files", true)
	v.SetDefault("restoration.patch_size", 9)
	v.SetDefault("restoration.patch_search_radius", 15)
	v.SetDefault("restoration.patch_max_iterations", 200)
	v.SetDefault("restoration.multiscale_levels", 3)

	v.SetDefault("presets_file", "presets.yaml")
}

var (
	defaultAllowedTypes = []string{
		"image/jpeg", "image/jpg", "image/png", "image/bmp", "image/tiff",
		"image/x-ms-bmp", "application/octet-stream",
	}
	defaultAllowedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".tif"}
)

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:           16 * 1024 * 1024,
			UploadDir:         "./uploads",
			RawDir:            "./uploads/raw",
			MaskDir:           "./uploads/masks",
			ProcessedDir:      "./uploads/processed",
			AllowedTypes:      defaultAllowedTypes,
			AllowedExtensions: defaultAllowedExtensions,
		},
		Restoration: RestorationConfig{
			MaxDimension:       2000,
			JPEGQuality:        95,
			DefaultBrushSize:   20,
			MaxConcurrent:      3,
			QueueTimeout:       30,
			CleanupTempFiles:   true,
			PatchSize:          9,
			PatchSearchRadius:  15,
			PatchMaxIterations: 200,
			MultiscaleLevels:   3,
		},
		PresetsFile: "presets.yaml",
	}
}
