package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Capture
	}{
		{"Déjame verte, ¿puedes mostrarme tu cara?", Photo},
		{"Let me TAKE A PICTURE of that", Photo},
		{"Muéstrame qué está pasando ahí", Video},
		{"What's happening in the kitchen?", Video},
		{"Hola, ¿cómo estás hoy?", None},
		{"", None},
		// Both lists match; video wins.
		{"Take a photo, or better, record a video", Video},
		{"Let me see what you mean", Video},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.text), tt.text)
	}
}
