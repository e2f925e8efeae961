// Package config 合并与校验插件配置，并负责从文件加载覆盖配置
package config

import (
	"sort"

	"github.com/lomehong/chatplot/pkg/plugin/api"
)

// Merge 合并默认配置与覆盖配置
// 覆盖值优先；提供 schema 时校验必需字段与字段类型，否则不做校验
// 不修改任何输入
func Merge(defaults, overrides api.PluginConfig, schema *api.ConfigSchema) (api.PluginConfig, error) {
	merged := make(api.PluginConfig, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	if schema == nil {
		return merged, nil
	}
	if err := Validate(merged, schema); err != nil {
		return nil, err
	}
	return merged, nil
}

// Validate 按架构校验配置
func Validate(cfg api.PluginConfig, schema *api.ConfigSchema) error {
	if schema == nil {
		return nil
	}

	// 按字段名排序，保证多个错误时报告的字段稳定
	names := make([]string, 0, len(schema.Fields))
	for name := range schema.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := schema.Fields[name]
		value, ok := cfg[name]
		if !ok {
			if field.Required {
				return &api.MissingConfigFieldError{Field: name}
			}
			continue
		}
		if !field.Type.Matches(value) {
			return &api.ConfigTypeError{
				Field:    name,
				Expected: string(field.Type),
				Actual:   api.TypeName(value),
			}
		}
	}

	if schema.Closed {
		keys := make([]string, 0, len(cfg))
		for k := range cfg {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, declared := schema.Fields[k]; !declared {
				return &api.ConfigTypeError{Field: k, Expected: "undeclared", Actual: api.TypeName(cfg[k])}
			}
		}
	}
	return nil
}

// Defaults 由架构中声明的默认值构造默认配置
func Defaults(schema *api.ConfigSchema) api.PluginConfig {
	defaults := make(api.PluginConfig)
	if schema == nil {
		return defaults
	}
	for name, field := range schema.Fields {
		if field.Default != nil {
			defaults[name] = field.Default
		}
	}
	return defaults
}
