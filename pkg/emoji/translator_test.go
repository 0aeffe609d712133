package emoji

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslator_Translate(t *testing.T) {
	tr := New(map[string]string{"smile": "🙂", "+1": "👍", "blank": ""})

	tests := []struct {
		in   string
		want string
	}{
		{":smile:", "🙂"},
		{":not_a_real_emoji:", ":not_a_real_emoji:"},
		{"hello :smile: world", "hello 🙂 world"},
		{":smile::smile:", "🙂🙂"},
		{"ratio :+1: :-1:", "ratio 👍 :-1:"},
		{"no glyph :blank:", "no glyph :blank:"},
		{"time 10:30:45", "time 10:30:45"},
		{"", ""},
		{"::", "::"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Translate(tt.in))
		})
	}
}

func TestTranslator_SnapshotIsImmutable(t *testing.T) {
	dict := map[string]string{"smile": "🙂"}
	tr := New(dict)
	dict["smile"] = "X"
	dict["new"] = "Y"

	assert.Equal(t, "🙂", tr.Translate(":smile:"))
	assert.Equal(t, ":new:", tr.Translate(":new:"))
}

func TestTranslator_Glyph(t *testing.T) {
	tr := Default()
	g, ok := tr.Glyph(":tada:")
	assert.True(t, ok)
	assert.Equal(t, "🎉", g)

	g, ok = tr.Glyph("tada")
	assert.True(t, ok)
	assert.Equal(t, "🎉", g)

	_, ok = tr.Glyph("nope")
	assert.False(t, ok)
}

func TestLoadOrDefault(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "emoji.yaml", []byte("party_parrot: \"🦜\"\nsmile: \"🙂\"\n"), 0o644))

	tr, err := LoadOrDefault(fs, "emoji.yaml")
	require.NoError(t, err)
	assert.Equal(t, "🦜 🙂 🎉", tr.Translate(":party_parrot: :smile: :tada:"))

	tr, err = LoadOrDefault(fs, "")
	require.NoError(t, err)
	assert.Equal(t, Default().Len(), tr.Len())

	_, err = LoadOrDefault(fs, "missing.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("- just\n- a list\n"), 0o644))
	_, err = LoadOrDefault(fs, "bad.yaml")
	assert.Error(t, err)
}

func TestTranslator_Codes(t *testing.T) {
	tr := New(map[string]string{"b": "🅱", "a": "🅰", "blank": ""})
	assert.Equal(t, []string{"a", "b"}, tr.Codes())
}
