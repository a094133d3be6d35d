package plugin

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nerrad567/probebench/internal/driver"
)

func TestRegister(t *testing.T) {
	f := func(Options) (driver.Hooks, error) { return &stubHooks{}, nil }

	Register("test-register-once", f)
	assert.Contains(t, Factories(), "test-register-once")

	assert.Panics(t, func() { Register("test-register-once", f) })
	assert.Panics(t, func() { Register("test-register-nil", nil) })
}

func TestOptions(t *testing.T) {
	o := Options{
		"s":   "text",
		"i":   3,
		"f":   2.5,
		"b":   true,
		"d":   "250ms",
		"dms": 40,
		"l":   []any{"-L", 500, "can0"},
	}

	assert.Equal(t, "text", o.String("s", "x"))
	assert.Equal(t, "x", o.String("missing", "x"))
	assert.Equal(t, 3, o.Int("i", 0))
	assert.Equal(t, 2, o.Int("f", 0))
	assert.Equal(t, 7, o.Int("s", 7))
	assert.InDelta(t, 2.5, o.Float("f", 0), 1e-9)
	assert.InDelta(t, 3.0, o.Float("i", 0), 1e-9)
	assert.True(t, o.Bool("b", false))
	assert.Equal(t, 250*time.Millisecond, o.Duration("d", 0))
	assert.Equal(t, 40*time.Millisecond, o.Duration("dms", 0))
	assert.Equal(t, time.Second, o.Duration("missing", time.Second))
	assert.Equal(t, []string{"-L", "500", "can0"}, o.Strings("l"))
	assert.Nil(t, o.Strings("s"))
}

func TestPluginLoadError(t *testing.T) {
	cause := errors.New("boom")
	err := &PluginLoadError{Name: "can0", Path: "/p/can0.yaml", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "plugin can0 (/p/can0.yaml): boom", err.Error())
	assert.Equal(t, "plugin x: boom", (&PluginLoadError{Name: "x", Err: cause}).Error())

	b, jerr := json.Marshal(err)
	assert.NoError(t, jerr)
	assert.JSONEq(t, `{"name":"can0","path":"/p/can0.yaml","error":"boom"}`, string(b))
}
