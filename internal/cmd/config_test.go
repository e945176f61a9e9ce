package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mjamiv/vox2txt-sub003/internal/config"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty stays empty", in: "", want: ""},
		{name: "short is starred out", in: "secret", want: "********"},
		{name: "long keeps edges", in: "sk-or-v1-0123456789abcdef", want: "sk-o...cdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskKey(tt.in))
		})
	}
}

// The commented template written by "config edit" must stay loadable and
// in line with the built-in defaults.
func TestDefaultConfigYAMLParses(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, yaml.Unmarshal([]byte(defaultConfigYAML), &cfg))
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Societies.Enabled)
	assert.Equal(t, "rotating", cfg.Societies.RoleStrategy)
	assert.Equal(t, 0.75, cfg.Conflict.Threshold)
	assert.Equal(t, 4, cfg.Execute.MaxParallel)
	assert.Equal(t, 100*time.Millisecond, cfg.Execute.RetryBackoff.Std())
	assert.Equal(t, 2*time.Minute, cfg.Aggregate.Timeout.Std())
	assert.Equal(t, 1024, cfg.Cache.Size)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestKeyState(t *testing.T) {
	assert.Equal(t, "(unset)", keyState(""))
	assert.Equal(t, "set (sk-o...cdef)", keyState("sk-o...cdef"))
}
