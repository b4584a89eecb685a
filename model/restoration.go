package model

// StrokeSample 笔刷采样点，坐标位于图像像素空间
type StrokeSample struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Radius int `json:"radius"`
}

// ImageAnalysis 图像描述量，每次请求重新计算
type ImageAnalysis struct {
	Brightness   float64    `json:"brightness"`
	NoiseLevel   float64    `json:"noise_level"`
	EdgeDensity  float64    `json:"edge_density"`
	ColorBalance [3]float64 `json:"color_balance"` // R, G, B 校正比例
}

// 质量评价等级
const (
	VerdictExcellent = "Excellent"
	VerdictGood      = "Good"
	VerdictModerate  = "Moderate"
	VerdictPoor      = "Poor"
)

// QualityReport 质量评分
type QualityReport struct {
	PSNR    float64 `json:"psnr"`
	SSIM    float64 `json:"ssim"`
	Verdict string  `json:"improvement_level"`
}

// Metrics 修复结果指标
type Metrics struct {
	PSNR             float64  `json:"psnr"`
	SSIM             float64  `json:"ssim"`
	ImprovementLevel string   `json:"improvement_level"`
	ProcessingTime   float64  `json:"processing_time"` // 秒
	MaskUsed         bool     `json:"mask_used"`
	DamageRatio      *float64 `json:"damage_ratio,omitempty"`
	MethodUsed       string   `json:"method_used,omitempty"`
	StepsApplied     []string `json:"steps_applied,omitempty"`
}
