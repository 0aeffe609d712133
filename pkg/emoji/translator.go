// Package emoji turns ":shortcode:" tokens into their glyphs.
package emoji

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var shortcodePattern = regexp.MustCompile(`:[A-Za-z0-9_+-]+:`)

// Translator maps shortcodes to glyphs using a dictionary snapshot taken at
// construction. It is safe for concurrent use.
type Translator struct {
	glyphs map[string]string
}

// New copies dict, so later changes to it are not observed.
func New(dict map[string]string) *Translator {
	return &Translator{glyphs: maps.Clone(dict)}
}

// Default returns a translator over the built-in dictionary.
func Default() *Translator {
	return New(builtin)
}

// Glyph looks up a shortcode given with or without its surrounding colons.
func (t *Translator) Glyph(shortcode string) (string, bool) {
	g, ok := t.glyphs[strings.Trim(shortcode, ":")]
	if !ok || g == "" {
		return "", false
	}
	return g, true
}

// Translate replaces every known shortcode in text. Unknown tokens are kept
// verbatim, colons included.
func (t *Translator) Translate(text string) string {
	return shortcodePattern.ReplaceAllStringFunc(text, func(tok string) string {
		if g, ok := t.Glyph(tok); ok {
			return g
		}
		return tok
	})
}

// Len returns the number of shortcodes in the snapshot.
func (t *Translator) Len() int {
	return len(t.glyphs)
}

// Codes returns the shortcodes with a glyph, sorted.
func (t *Translator) Codes() []string {
	codes := make([]string, 0, len(t.glyphs))
	for code, g := range t.glyphs {
		if g != "" {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes
}

// Load reads a YAML mapping of shortcode to glyph from path.
func Load(fs afero.Fs, path string) (map[string]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read emoji dictionary: %w", err)
	}
	dict := make(map[string]string)
	if err := yaml.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("parse emoji dictionary %s: %w", path, err)
	}
	return dict, nil
}

// LoadOrDefault extends the built-in dictionary with the entries in path.
// An empty path yields the built-in dictionary alone.
func LoadOrDefault(fs afero.Fs, path string) (*Translator, error) {
	if path == "" {
		return Default(), nil
	}
	extra, err := Load(fs, path)
	if err != nil {
		return nil, err
	}
	dict := maps.Clone(builtin)
	maps.Copy(dict, extra)
	return New(dict), nil
}
