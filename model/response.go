package model

// ProcessResponse 修复接口响应
type ProcessResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	OriginalImage  string   `json:"original_image,omitempty"`  // data URI
	ProcessedImage string   `json:"processed_image,omitempty"` // data URI
	Metrics        *Metrics `json:"metrics,omitempty"`
	Filename       string   `json:"filename,omitempty"`
	MaskUsed       bool     `json:"mask_used"`
	MaskID         string   `json:"mask_id,omitempty"`
	Cached         bool     `json:"cached,omitempty"`
}

// TestMaskRequest 掩码测试请求
type TestMaskRequest struct {
	Coordinates []any `json:"coordinates"`
	BrushSize   any   `json:"brush_size"`
}

// TestMaskResponse 掩码测试响应
type TestMaskResponse struct {
	Success    bool   `json:"success"`
	MaskPixels int    `json:"mask_pixels"`
	MaskPath   string `json:"mask_path"`
}

// ScratchResponse 自动划痕检测响应
type ScratchResponse struct {
	Success    bool    `json:"success"`
	Mask       string  `json:"mask"` // data URI
	MaskPixels int     `json:"mask_pixels"`
	Ratio      float64 `json:"ratio"`
}

// CachedResult 缓存中的处理结果
type CachedResult struct {
	Filename string  `json:"filename"`
	Image    []byte  `json:"image"`    // 编码后的结果图
	Original []byte  `json:"original"` // 缩放并编码为 JPEG 的原图
	Metrics  Metrics `json:"metrics"`
	MaskID   string  `json:"mask_id,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
