package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	s, err := Parse([]byte("# comment\n\nshow_time=1\nlast_dir=/videos/a=b\n lead_ms = 150 \nlabel=\"two words\"\nshow_time=0\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"label", KeyLastDir, KeyLeadMillis, KeyShowTime}, s.Keys())
	assert.False(t, s.Bool(KeyShowTime, true), "last value wins")
	v, ok := s.Get(KeyLastDir)
	require.True(t, ok)
	assert.Equal(t, "/videos/a=b", v)
	assert.Equal(t, 150, s.Int(KeyLeadMillis, 100))
	v, _ = s.Get("label")
	assert.Equal(t, "two words", v)
}

func TestParseRejectsMalformedKey(t *testing.T) {
	_, err := Parse([]byte("bad-key=1\n"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "player.cfg")
	require.NoError(t, os.WriteFile(path, []byte("bad-key=1\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestTypedAccessors(t *testing.T) {
	s := New()
	s.SetInt(KeyDisplayRate, 60)
	s.SetBool(KeyShowDebug, true)
	s.Set(KeyLeadMillis, "soon")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "int", got: s.Int(KeyDisplayRate, 30), want: 60},
		{name: "missing int", got: s.Int("missing", 7), want: 7},
		{name: "malformed int", got: s.Int(KeyLeadMillis, 100), want: 100},
		{name: "bool", got: s.Bool(KeyShowDebug, false), want: true},
		{name: "missing bool", got: s.Bool(KeyShowTime, true), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSetStripsNewlines(t *testing.T) {
	s := New()
	s.Set(KeyLastDir, "a\nb")
	v, _ := s.Get(KeyLastDir)
	assert.Equal(t, "a b", v)
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "none.cfg"))
	require.NoError(t, err)
	assert.Empty(t, s.Keys())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "player.cfg")

	s := New()
	s.SetInt(KeyLeadMillis, 120)
	s.SetBool(KeyShowTime, true)
	s.Set("custom_key", "kept as is")
	require.NoError(t, s.Save(path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lead_ms=120\n")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Keys(), loaded.Keys())
	assert.Equal(t, 120, loaded.Int(KeyLeadMillis, 0))
	assert.True(t, loaded.Bool(KeyShowTime, false))
	v, _ := loaded.Get("custom_key")
	assert.Equal(t, "kept as is", v)
}
