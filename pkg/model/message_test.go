package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBody_Validate(t *testing.T) {
	tests := []struct {
		name string
		body Body
		want error
	}{
		{"text", TextBody("hello"), nil},
		{"image", ImageBody("http://x/y.jpg"), nil},
		{"neither", Body{}, ErrEmptyBody},
		{"both", Body{Text: "a", ImageURL: "b"}, ErrAmbiguousBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.body.Validate(), tt.want)
		})
	}
}

func TestMessageRecord_JSONShape(t *testing.T) {
	rec := MessageRecord{
		Author: Author{ID: "u1", Name: "Ann"},
		Body:   ImageBody("http://media/public/a.jpg"),
	}
	rec = rec.Stamp(Ack{ID: 42, Timestamp: time.Unix(100, 0).UTC()})

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "http://media/public/a.jpg", raw["image"])
	assert.NotContains(t, raw, "content")
	assert.EqualValues(t, 42, raw["id"])
	assert.Contains(t, raw, "user")
}
