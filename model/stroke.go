package model

import (
	"encoding/json"
	"math"
)

// DefaultBrushRadius 笔刷半径缺省值
const DefaultBrushRadius = 20

// maxCoord 坐标与半径的解析上限，超出部分由掩码绘制阶段再裁剪到图像内
const maxCoord = math.MaxInt32

// MaskData 前端提交的笔刷数据
type MaskData struct {
	Coordinates []any `json:"coordinates"`
	BrushSize   any   `json:"brush_size"`
}

// ParseMaskData 解析 mask_data 表单字段，返回有效采样点和被丢弃的点数
func ParseMaskData(data []byte) ([]StrokeSample, int, error) {
	var md MaskData
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, 0, err
	}
	brush := DefaultBrushRadius
	if f, ok := toFloat(md.BrushSize); ok && f >= 1 {
		brush = roundClamp(f, 1, maxCoord)
	}
	strokes, dropped := ParseStrokes(md.Coordinates, brush)
	return strokes, dropped, nil
}

// ParseStrokes 将原始坐标转换为采样点。
// 支持 {"x":..,"y":..,"radius":..} 与 [x, y, radius] 两种形式；
// x 或 y 无法解析的点被跳过，半径无法解析时使用 brush
func ParseStrokes(points []any, brush int) ([]StrokeSample, int) {
	if brush < 1 {
		brush = DefaultBrushRadius
	}
	strokes := make([]StrokeSample, 0, len(points))
	dropped := 0
	for _, pt := range points {
		var xv, yv, rv any
		switch t := pt.(type) {
		case map[string]any:
			xv, yv = t["x"], t["y"]
			rv = firstPresent(t, "radius", "size", "brush_size")
		case []any:
			if len(t) >= 2 {
				xv, yv = t[0], t[1]
			}
			if len(t) >= 3 {
				rv = t[2]
			}
		}
		x, okX := toFloat(xv)
		y, okY := toFloat(yv)
		if !okX || !okY {
			dropped++
			continue
		}
		radius := brush
		if r, ok := toFloat(rv); ok && r >= 1 {
			radius = roundClamp(r, 1, maxCoord)
		}
		strokes = append(strokes, StrokeSample{
			X:      roundClamp(x, -maxCoord, maxCoord),
			Y:      roundClamp(y, -maxCoord, maxCoord),
			Radius: radius,
		})
	}
	return strokes, dropped
}

// ScaleStrokes 按缩放比例映射坐标与半径
func ScaleStrokes(strokes []StrokeSample, scale float64) []StrokeSample {
	if scale == 1.0 {
		return strokes
	}
	scaled := make([]StrokeSample, len(strokes))
	for i, s := range strokes {
		scaled[i] = StrokeSample{
			X:      roundClamp(float64(s.X)*scale, -maxCoord, maxCoord),
			Y:      roundClamp(float64(s.Y)*scale, -maxCoord, maxCoord),
			Radius: roundClamp(float64(s.Radius)*scale, 1, maxCoord),
		}
	}
	return scaled
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
