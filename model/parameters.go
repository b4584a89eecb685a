package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// InpaintingMethod 修复算法
type InpaintingMethod string

const (
	MethodAuto       InpaintingMethod = "auto"
	MethodTelea      InpaintingMethod = "telea"
	MethodNS         InpaintingMethod = "ns"
	MethodPatch      InpaintingMethod = "patch"
	MethodMultiscale InpaintingMethod = "multiscale"
)

// 参数键名
const (
	KeyBrightness        = "brightness"
	KeyContrast          = "contrast"
	KeySharpness         = "sharpness"
	KeySaturation        = "saturation"
	KeyNoiseReduction    = "noise_reduction"
	KeyDetailEnhancement = "detail_enhancement"
	KeyGamma             = "gamma"
	KeyTemperature       = "temperature"
	KeyTint              = "tint"
	KeyAutoWhiteBalance  = "auto_white_balance"
	KeyInpaintingMethod  = "inpainting_method"
	KeyInpaintingRadius  = "inpainting_radius"
	KeyQuality           = "quality"
)

// camelCase 别名，前端两种写法都会出现
var keyAliases = map[string]string{
	"noiseReduction":    KeyNoiseReduction,
	"detailEnhancement": KeyDetailEnhancement,
	"autoWhiteBalance":  KeyAutoWhiteBalance,
	"inpaintingMethod":  KeyInpaintingMethod,
	"inpaintingRadius":  KeyInpaintingRadius,
}

type intRange struct {
	min, max, neutral int
}

var intRanges = map[string]intRange{
	KeyBrightness:        {-100, 100, 0},
	KeyContrast:          {-100, 100, 0},
	KeySharpness:         {-100, 100, 0},
	KeySaturation:        {0, 200, 100},
	KeyNoiseReduction:    {0, 100, 0},
	KeyDetailEnhancement: {0, 100, 0},
	KeyTemperature:       {-100, 100, 0},
	KeyTint:              {-50, 50, 0},
	KeyInpaintingRadius:  {1, 20, 3},
	KeyQuality:           {10, 100, 95},
}

const (
	gammaMin     = 0.1
	gammaMax     = 3.0
	gammaNeutral = 1.0
)

// Parameters 处理参数。explicit 记录调用方显式给出的键，
// 自适应调整只作用于未显式给出的参数
type Parameters struct {
	Brightness        int              `json:"brightness"`
	Contrast          int              `json:"contrast"`
	Sharpness         int              `json:"sharpness"`
	Saturation        int              `json:"saturation"`
	NoiseReduction    int              `json:"noise_reduction"`
	DetailEnhancement int              `json:"detail_enhancement"`
	Gamma             float64          `json:"gamma"`
	Temperature       int              `json:"temperature"`
	Tint              int              `json:"tint"`
	AutoWhiteBalance  bool             `json:"auto_white_balance"`
	InpaintingMethod  InpaintingMethod `json:"inpainting_method"`
	InpaintingRadius  int              `json:"inpainting_radius"`
	Quality           int              `json:"quality"`

	explicit map[string]bool
}

// DefaultParameters 返回全部为中性值且均未显式设置的参数
func DefaultParameters() Parameters {
	return Parameters{
		Saturation:       intRanges[KeySaturation].neutral,
		Gamma:            gammaNeutral,
		InpaintingMethod: MethodAuto,
		InpaintingRadius: intRanges[KeyInpaintingRadius].neutral,
		Quality:          intRanges[KeyQuality].neutral,
	}
}

// ParseParameters 宽松解析参数：数字字符串会被转换，越界值截断到边界，
// 无法解析的值回退为中性默认值且视为未设置
func ParseParameters(raw map[string]any) Parameters {
	p := DefaultParameters()
	for key, value := range raw {
		if alias, ok := keyAliases[key]; ok {
			key = alias
		}
		switch key {
		case KeyGamma:
			if f, ok := toFloat(value); ok {
				p.Gamma = f
				p.markSet(key)
			}
		case KeyAutoWhiteBalance:
			if b, ok := toBool(value); ok {
				p.AutoWhiteBalance = b
				p.markSet(key)
			}
		case KeyInpaintingMethod:
			if m, ok := toMethod(value); ok {
				p.InpaintingMethod = m
				p.markSet(key)
			}
		default:
			if _, known := intRanges[key]; !known {
				continue
			}
			if f, ok := toFloat(value); ok {
				r := intRanges[key]
				p.setInt(key, roundClamp(f, r.min, r.max))
				p.markSet(key)
			}
		}
	}
	return p.Clamped()
}

// ParseParametersJSON 解析 JSON 形式的参数，空字符串返回默认参数
func ParseParametersJSON(data []byte) (Parameters, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return DefaultParameters(), nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return DefaultParameters(), err
	}
	return ParseParameters(raw), nil
}

// Clamped 返回截断到合法区间后的副本
func (p Parameters) Clamped() Parameters {
	for key, r := range intRanges {
		p.setInt(key, clampInt(p.getInt(key), r.min, r.max))
	}
	if math.IsNaN(p.Gamma) || math.IsInf(p.Gamma, 0) {
		p.Gamma = gammaNeutral
	}
	p.Gamma = math.Min(math.Max(p.Gamma, gammaMin), gammaMax)
	if _, ok := toMethod(string(p.InpaintingMethod)); !ok {
		p.InpaintingMethod = MethodAuto
	}
	return p
}

// IsSet 判断调用方是否显式给出了该参数
func (p Parameters) IsSet(key string) bool {
	return p.explicit[key]
}

// With 设置单个参数并标记为显式，主要用于构造请求
func (p Parameters) With(key string, value any) Parameters {
	raw := p.raw()
	raw[key] = value
	return ParseParameters(raw)
}

// raw 导出为原始键值，只包含显式设置的键
func (p Parameters) raw() map[string]any {
	raw := make(map[string]any, len(p.explicit))
	for key := range p.explicit {
		switch key {
		case KeyGamma:
			raw[key] = p.Gamma
		case KeyAutoWhiteBalance:
			raw[key] = p.AutoWhiteBalance
		case KeyInpaintingMethod:
			raw[key] = string(p.InpaintingMethod)
		default:
			raw[key] = p.getInt(key)
		}
	}
	return raw
}

func (p *Parameters) markSet(key string) {
	if p.explicit == nil {
		p.explicit = make(map[string]bool)
	}
	p.explicit[key] = true
}

func (p *Parameters) field(key string) *int {
	switch key {
	case KeyBrightness:
		return &p.Brightness
	case KeyContrast:
		return &p.Contrast
	case KeySharpness:
		return &p.Sharpness
	case KeySaturation:
		return &p.Saturation
	case KeyNoiseReduction:
		return &p.NoiseReduction
	case KeyDetailEnhancement:
		return &p.DetailEnhancement
	case KeyTemperature:
		return &p.Temperature
	case KeyTint:
		return &p.Tint
	case KeyInpaintingRadius:
		return &p.InpaintingRadius
	case KeyQuality:
		return &p.Quality
	}
	return nil
}

func (p *Parameters) setInt(key string, v int) {
	if f := p.field(key); f != nil {
		*f = v
	}
}

func (p *Parameters) getInt(key string) int {
	if f := p.field(key); f != nil {
		return *f
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "on", "yes":
			return true, true
		case "false", "0", "off", "no", "":
			return false, true
		}
		return false, false
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

func toMethod(v any) (InpaintingMethod, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	m := InpaintingMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodAuto, MethodTelea, MethodNS, MethodPatch, MethodMultiscale:
		return m, true
	}
	return "", false
}

// roundClamp 先在浮点域截断再取整，避免越界浮点转 int 的未定义结果
func roundClamp(f float64, lo, hi int) int {
	f = math.Min(math.Max(math.Round(f), float64(lo)), float64(hi))
	return int(f)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
