package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Presets 预设名到参数表的映射
type Presets map[string]map[string]any

// LoadPresets 读取预设文件，文件不存在时返回空表
func LoadPresets(path string) (Presets, error) {
	if path == "" {
		return Presets{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Presets{}, nil
		}
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets 解析 YAML 预设
func ParsePresets(data []byte) (Presets, error) {
	var doc struct {
		Presets Presets `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if doc.Presets == nil {
		return Presets{}, nil
	}
	return doc.Presets, nil
}

// Names 按字母序返回预设名
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge 先取预设值，再由 overrides 覆盖。未知预设名返回 false
func (p Presets) Merge(name string, overrides map[string]any) (map[string]any, bool) {
	merged := make(map[string]any)
	ok := true
	if name != "" {
		preset, found := p[name]
		ok = found
		for k, v := range preset {
			merged[k] = v
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, ok
}
