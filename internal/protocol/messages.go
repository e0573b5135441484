// Package protocol defines the JSON messages exchanged with the robot app
// over the interaction WebSocket. Every message carries a "type"
// discriminator; client messages decode into one concrete struct per kind.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownKind is returned for a type discriminator nobody handles.
	ErrUnknownKind = errors.New("protocol: unknown message type")
)

// Kind is a message type discriminator.
type Kind string

// Client to server kinds.
const (
	KindAuth             Kind = "auth"
	KindInteractionStart Kind = "interaction_start"
	KindText             Kind = "text"
	KindAudioEnd         Kind = "audio_end"
	KindImage            Kind = "image"
	KindVideo            Kind = "video"
	KindMultimodal       Kind = "multimodal"
	KindFaceScanMode     Kind = "face_scan_mode"
	KindPersonDetected   Kind = "person_detected"
)

// Default MIME types for media sent without one.
const (
	DefaultAudioMime = "audio/wav"
	DefaultImageMime = "image/jpeg"
	DefaultVideoMime = "video/mp4"
)

// Message is a decoded client message.
type Message interface {
	Kind() Kind
}

// Auth must be the first message on a connection.
type Auth struct {
	APIKey   string `json:"api_key"`
	DeviceID string `json:"device_id,omitempty"`
}

// InteractionStart resets the per-turn state of a session.
type InteractionStart struct {
	RequestID     string `json:"request_id"`
	PersonID      string `json:"person_id,omitempty"`
	FaceEmbedding string `json:"face_embedding,omitempty"`
}

// Text is a typed user utterance.
type Text struct {
	RequestID     string `json:"request_id"`
	Content       string `json:"content"`
	FaceEmbedding string `json:"face_embedding,omitempty"`
}

// AudioEnd closes a run of binary audio frames.
type AudioEnd struct {
	RequestID     string `json:"request_id"`
	FaceEmbedding string `json:"face_embedding,omitempty"`
}

// Image carries a base64 picture and optional text.
type Image struct {
	RequestID     string `json:"request_id"`
	Data          string `json:"data"`
	MimeType      string `json:"mime_type,omitempty"`
	Text          string `json:"text,omitempty"`
	FaceEmbedding string `json:"face_embedding,omitempty"`
}

// Video carries a base64 clip and optional text.
type Video struct {
	RequestID  string `json:"request_id"`
	Data       string `json:"data"`
	MimeType   string `json:"mime_type,omitempty"`
	Text       string `json:"text,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// Multimodal bundles any combination of text and base64 media.
type Multimodal struct {
	RequestID     string `json:"request_id"`
	Text          string `json:"text,omitempty"`
	Audio         string `json:"audio,omitempty"`
	AudioMime     string `json:"audio_mime,omitempty"`
	Image         string `json:"image,omitempty"`
	ImageMime     string `json:"image_mime,omitempty"`
	Video         string `json:"video,omitempty"`
	VideoMime     string `json:"video_mime,omitempty"`
	FaceEmbedding string `json:"face_embedding,omitempty"`
}

// FaceScanMode asks the robot to sweep the room for faces.
type FaceScanMode struct {
	RequestID string `json:"request_id"`
}

// PersonDetected reports a face seen by the app's on-device recogniser.
type PersonDetected struct {
	RequestID  string  `json:"request_id"`
	Known      bool    `json:"known"`
	PersonID   string  `json:"person_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

func (Auth) Kind() Kind             { return KindAuth }
func (InteractionStart) Kind() Kind { return KindInteractionStart }
func (Text) Kind() Kind             { return KindText }
func (AudioEnd) Kind() Kind         { return KindAudioEnd }
func (Image) Kind() Kind            { return KindImage }
func (Video) Kind() Kind            { return KindVideo }
func (Multimodal) Kind() Kind       { return KindMultimodal }
func (FaceScanMode) Kind() Kind     { return KindFaceScanMode }
func (PersonDetected) Kind() Kind   { return KindPersonDetected }

// Decode parses one client JSON message into its concrete type.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	switch env.Type {
	case KindAuth:
		msg = &Auth{}
	case KindInteractionStart:
		msg = &InteractionStart{}
	case KindText:
		msg = &Text{}
	case KindAudioEnd:
		msg = &AudioEnd{}
	case KindImage:
		msg = &Image{}
	case KindVideo:
		msg = &Video{}
	case KindMultimodal:
		msg = &Multimodal{}
	case KindFaceScanMode:
		msg = &FaceScanMode{}
	case KindPersonDetected:
		msg = &PersonDetected{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}

// DecodeBase64 decodes standard or URL-safe base64, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid base64 payload", ErrMalformed)
}

// MimeOr returns mime, or fallback when mime is blank.
func MimeOr(mime, fallback string) string {
	if m := strings.TrimSpace(mime); m != "" {
		return m
	}
	return fallback
}
