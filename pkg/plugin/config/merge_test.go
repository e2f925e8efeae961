package config

import (
	"errors"
	"testing"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeWithoutSchema(t *testing.T) {
	defaults := api.PluginConfig{"a": 1, "b": 2}
	overrides := api.PluginConfig{"b": 3, "c": 4}

	merged, err := Merge(defaults, overrides, nil)
	require.NoError(t, err)
	assert.Equal(t, api.PluginConfig{"a": 1, "b": 3, "c": 4}, merged)

	// 输入不被修改
	assert.Equal(t, api.PluginConfig{"a": 1, "b": 2}, defaults)
	assert.Equal(t, api.PluginConfig{"b": 3, "c": 4}, overrides)
}

func TestMergeNilInputs(t *testing.T) {
	merged, err := Merge(nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestMergeMissingRequiredField(t *testing.T) {
	schema := &api.ConfigSchema{Fields: map[string]api.FieldSpec{
		"x": {Required: true},
	}}

	_, err := Merge(api.PluginConfig{}, api.PluginConfig{}, schema)
	require.Error(t, err)

	var missing *api.MissingConfigFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "x", missing.Field)
	assert.ErrorIs(t, err, api.ErrMissingConfigField)
}

func TestMergeTypeMismatch(t *testing.T) {
	schema := &api.ConfigSchema{Fields: map[string]api.FieldSpec{
		"seasonal_period": {Type: api.FieldTypeInteger, Default: 12},
	}}

	_, err := Merge(Defaults(schema), api.PluginConfig{"seasonal_period": "monthly"}, schema)
	var typeErr *api.ConfigTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "seasonal_period", typeErr.Field)
	assert.Equal(t, "integer", typeErr.Expected)
	assert.Equal(t, "string", typeErr.Actual)
}

func TestMergeOpenAndClosedSchema(t *testing.T) {
	schema := &api.ConfigSchema{Fields: map[string]api.FieldSpec{
		"min_support": {Type: api.FieldTypeNumber, Default: 0.01},
	}}

	merged, err := Merge(Defaults(schema), api.PluginConfig{"extra": true}, schema)
	require.NoError(t, err)
	assert.Equal(t, true, merged["extra"])

	schema.Closed = true
	_, err = Merge(Defaults(schema), api.PluginConfig{"extra": true}, schema)
	var typeErr *api.ConfigTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "extra", typeErr.Field)
	assert.Equal(t, "undeclared", typeErr.Expected)
}

func TestMergeIntegralFloatIsInteger(t *testing.T) {
	schema := &api.ConfigSchema{Fields: map[string]api.FieldSpec{
		"max_length": {Type: api.FieldTypeInteger, Required: true},
	}}
	merged, err := Merge(nil, api.PluginConfig{"max_length": float64(3)}, schema)
	require.NoError(t, err)
	assert.Equal(t, float64(3), merged["max_length"])

	_, err = Merge(nil, api.PluginConfig{"max_length": 3.5}, schema)
	assert.ErrorIs(t, err, api.ErrConfigType)
}

func TestDefaults(t *testing.T) {
	assert.Empty(t, Defaults(nil))

	schema := &api.ConfigSchema{Fields: map[string]api.FieldSpec{
		"with":    {Type: api.FieldTypeString, Default: "v"},
		"without": {Type: api.FieldTypeString},
	}}
	assert.Equal(t, api.PluginConfig{"with": "v"}, Defaults(schema))
}

func TestDecode(t *testing.T) {
	var target struct {
		Threshold float64 `mapstructure:"outlier_threshold"`
		Period    int     `mapstructure:"seasonal_period"`
		Model     string  `mapstructure:"decomposition_model"`
	}

	err := Decode(api.PluginConfig{
		"outlier_threshold":   3,
		"seasonal_period":     float64(12),
		"decomposition_model": "additive",
	}, &target)
	require.NoError(t, err)
	assert.Equal(t, 3.0, target.Threshold)
	assert.Equal(t, 12, target.Period)
	assert.Equal(t, "additive", target.Model)

	assert.Error(t, Decode(api.PluginConfig{}, target))
}
