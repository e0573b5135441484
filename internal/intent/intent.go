// Package intent detects when a reply asks the client to capture media.
package intent

import "strings"

// Capture is the kind of media a reply asks for.
type Capture string

const (
	None  Capture = ""
	Photo Capture = "photo"
	Video Capture = "video"
)

var videoKeywords = []string{
	"graba un video",
	"graba un vídeo",
	"toma un video",
	"toma un vídeo",
	"filma",
	"captura un video",
	"captura un vídeo",
	"grabar un video",
	"grabar un vídeo",
	"muéstrame lo que",
	"mostrarme lo que",
	"qué está pasando",
	"que esta pasando",
	"muéstrame qué",
	"grábame",
	"grabame",
	"registra un video",
	"registra un vídeo",
	"record a video",
	"take a video",
	"capture a video",
	"film this",
	"show me what",
	"what's happening",
	"what is happening",
	"let me see what",
}

var photoKeywords = []string{
	"toma una foto",
	"saca una foto",
	"haz una foto",
	"captura una imagen",
	"hazme una foto",
	"toma una imagen",
	"fotografía",
	"fotografia",
	"puedo ver",
	"déjame ver",
	"déjame verte",
	"muéstrame tu cara",
	"mostrarme tu cara",
	"mostrarme tu rostro",
	"enseñame tu cara",
	"enseñame tu rostro",
	"captura una foto",
	"take a photo",
	"take a picture",
	"snap a photo",
	"snap a picture",
	"capture a photo",
	"capture an image",
	"let me see you",
	"show me your face",
	"let me see your face",
}

// Classify inspects reply text for capture phrasing. Video phrases are
// checked first, so text matching both lists is a video request.
func Classify(text string) Capture {
	lower := strings.ToLower(text)
	if containsAny(lower, videoKeywords) {
		return Video
	}
	if containsAny(lower, photoKeywords) {
		return Photo
	}
	return None
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
