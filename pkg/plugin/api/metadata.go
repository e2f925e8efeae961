package api

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// versionPattern 点分数字版本号，如 1、1.2、1.2.3
var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// PluginMetadata 插件元数据
// 元数据是不可变的值，注册时校验
type PluginMetadata struct {
	// 插件名称，在同一类别内唯一
	Name string `json:"name" yaml:"name"`

	// 插件版本，点分数字格式
	Version string `json:"version" yaml:"version"`

	// 插件描述
	Description string `json:"description" yaml:"description"`

	// 插件作者
	Author string `json:"author" yaml:"author"`

	// 插件依赖，仅作说明，核心不解析
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`

	// 插件实现的标识
	EntryPoint string `json:"entry_point" yaml:"entry_point"`

	// 配置架构，可选
	ConfigSchema *ConfigSchema `json:"config_schema,omitempty" yaml:"config_schema"`
}

// NewPluginMetadata 创建并校验插件元数据
func NewPluginMetadata(name, version, description, author, entryPoint string, dependencies []string, schema *ConfigSchema) (PluginMetadata, error) {
	md := PluginMetadata{
		Name:         name,
		Version:      version,
		Description:  description,
		Author:       author,
		Dependencies: append([]string(nil), dependencies...),
		EntryPoint:   entryPoint,
		ConfigSchema: schema,
	}
	if err := md.Validate(); err != nil {
		return PluginMetadata{}, err
	}
	return md, nil
}

// Validate 校验元数据
func (m PluginMetadata) Validate() error {
	if m.Name == "" {
		return &InvalidMetadataError{Plugin: m.Name, Reason: "插件名称不能为空"}
	}
	if !versionPattern.MatchString(m.Version) {
		return &InvalidMetadataError{Plugin: m.Name, Reason: fmt.Sprintf("无效的版本号: %q", m.Version)}
	}
	if m.EntryPoint == "" {
		return &InvalidMetadataError{Plugin: m.Name, Reason: "入口点不能为空"}
	}
	if m.ConfigSchema == nil {
		return nil
	}

	// 按字段名排序，保证错误信息稳定
	names := make([]string, 0, len(m.ConfigSchema.Fields))
	for name := range m.ConfigSchema.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := m.ConfigSchema.Fields[name]
		if !field.Type.Valid() {
			return &InvalidMetadataError{Plugin: m.Name, Reason: fmt.Sprintf("字段 %s 的类型 %q 无效", name, field.Type)}
		}
		if field.Default != nil && !field.Type.Matches(field.Default) {
			return &InvalidMetadataError{
				Plugin: m.Name,
				Reason: fmt.Sprintf("字段 %s 的默认值类型 %s 与声明类型 %s 不符", name, TypeName(field.Default), field.Type),
			}
		}
	}
	return nil
}

// SemVer 以语义化版本解析版本号
// 点分数字版本不足三段时自动补零
func (m PluginMetadata) SemVer() (*semver.Version, error) {
	return semver.NewVersion(m.Version)
}

// Clone 返回元数据的深拷贝
func (m PluginMetadata) Clone() PluginMetadata {
	out := m
	out.Dependencies = append([]string(nil), m.Dependencies...)
	if m.ConfigSchema != nil {
		schema := &ConfigSchema{Closed: m.ConfigSchema.Closed, Fields: make(map[string]FieldSpec, len(m.ConfigSchema.Fields))}
		for k, v := range m.ConfigSchema.Fields {
			schema.Fields[k] = v
		}
		out.ConfigSchema = schema
	}
	return out
}

// Mismatch 返回与 other 第一个不一致的字段名，完全一致时返回空串
// 依赖列表为 nil 与为空视为一致
func (m PluginMetadata) Mismatch(other PluginMetadata) string {
	switch {
	case m.Name != other.Name:
		return "name"
	case m.Version != other.Version:
		return "version"
	case m.EntryPoint != other.EntryPoint:
		return "entry_point"
	case m.Description != other.Description:
		return "description"
	case m.Author != other.Author:
		return "author"
	}
	if len(m.Dependencies) != len(other.Dependencies) {
		return "dependencies"
	}
	for i := range m.Dependencies {
		if m.Dependencies[i] != other.Dependencies[i] {
			return "dependencies"
		}
	}
	if !reflect.DeepEqual(m.ConfigSchema, other.ConfigSchema) {
		return "config_schema"
	}
	return ""
}

// ConfigSchema 配置架构
type ConfigSchema struct {
	// 字段定义
	Fields map[string]FieldSpec `json:"fields" yaml:"fields"`

	// 是否为封闭架构，封闭架构拒绝未声明的字段
	Closed bool `json:"closed,omitempty" yaml:"closed"`
}

// FieldSpec 配置字段定义
type FieldSpec struct {
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required"`
	Default  any       `json:"default,omitempty" yaml:"default"`
}

// FieldType 配置字段类型
type FieldType string

// 预定义的字段类型
const (
	FieldTypeString  FieldType = "string"
	FieldTypeInteger FieldType = "integer"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeObject  FieldType = "object"
	FieldTypeArray   FieldType = "array"
	FieldTypeAny     FieldType = "any"
)

// Valid 是否为已知类型，空类型视为 any
func (t FieldType) Valid() bool {
	switch t {
	case "", FieldTypeString, FieldTypeInteger, FieldTypeNumber, FieldTypeBoolean,
		FieldTypeObject, FieldTypeArray, FieldTypeAny:
		return true
	}
	return false
}

// Matches 检查值是否符合字段类型
// YAML/JSON 解析出的整数值可能是 float64，整数值的浮点数视为 integer
func (t FieldType) Matches(value any) bool {
	if value == nil {
		return t == FieldTypeAny || t == ""
	}
	rv := reflect.ValueOf(value)
	switch t {
	case "", FieldTypeAny:
		return true
	case FieldTypeString:
		return rv.Kind() == reflect.String
	case FieldTypeBoolean:
		return rv.Kind() == reflect.Bool
	case FieldTypeInteger:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			return !math.IsInf(f, 0) && f == math.Trunc(f)
		}
		return false
	case FieldTypeNumber:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case FieldTypeObject:
		return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
	case FieldTypeArray:
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	}
	return false
}

// TypeName 返回值在配置架构中的类型名
func TypeName(value any) string {
	if value == nil {
		return "null"
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.String:
		return string(FieldTypeString)
	case reflect.Bool:
		return string(FieldTypeBoolean)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return string(FieldTypeInteger)
	case reflect.Float32, reflect.Float64:
		return string(FieldTypeNumber)
	case reflect.Map, reflect.Struct:
		return string(FieldTypeObject)
	case reflect.Slice, reflect.Array:
		return string(FieldTypeArray)
	}
	return reflect.TypeOf(value).String()
}
