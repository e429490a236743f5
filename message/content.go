package message

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Kind tags the content variant carried by a message. The registry stores
// the tag next to the content identifier so readers can decode the single
// string field without sniffing.
type Kind uint8

const (
	// KindText is a plain text message.
	KindText Kind = iota
	// KindMedia is a shared media file referenced by its own content hash.
	KindMedia
	// KindVoice is an encoded voice clip with a duration marker.
	KindVoice
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindMedia:
		return "media"
	case KindVoice:
		return "voice"
	}
	return "unknown"
}

// ErrMalformedEnvelope indicates a payload that does not match its
// declared kind's envelope format.
var ErrMalformedEnvelope = errors.New("malformed content envelope")

// Content is the tagged variant of message payloads.
type Content interface {
	Kind() Kind
}

// Text is a plain text payload.
type Text struct {
	Body string
}

// Kind implements Content.
func (Text) Kind() Kind { return KindText }

// Media references a shared file stored out of band.
type Media struct {
	Hash      string
	MediaType string
	FileName  string
}

// Kind implements Content.
func (Media) Kind() Kind { return KindMedia }

// Voice is an encoded audio clip.
type Voice struct {
	Payload  []byte
	Duration int // seconds
}

// Kind implements Content.
func (Voice) Kind() Kind { return KindVoice }

const (
	voicePrefix = "[VOICE:"
	mediaPrefix = "[MEDIA:"
)

// Encode serializes a content variant into the registry's single string
// field. The switch is exhaustive over the variant set; an unknown dynamic
// type is a programming error and returns an error rather than truncating.
func Encode(c Content) (string, error) {
	switch v := c.(type) {
	case Text:
		return v.Body, nil
	case Media:
		if strings.ContainsAny(v.MediaType+v.FileName, "[]") {
			return "", fmt.Errorf("%w: media descriptor contains reserved characters", ErrMalformedEnvelope)
		}
		return fmt.Sprintf("%s%s:%s]%s", mediaPrefix, v.MediaType, v.FileName, v.Hash), nil
	case Voice:
		if v.Duration < 0 {
			return "", fmt.Errorf("%w: negative voice duration", ErrMalformedEnvelope)
		}
		return fmt.Sprintf("%s%ds]%s", voicePrefix, v.Duration, base64.StdEncoding.EncodeToString(v.Payload)), nil
	default:
		return "", fmt.Errorf("%w: unknown content kind %T", ErrMalformedEnvelope, c)
	}
}

// Decode parses a stored payload back into its variant using the kind tag
// recorded on the ledger.
func Decode(kind Kind, payload string) (Content, error) {
	switch kind {
	case KindText:
		return Text{Body: payload}, nil
	case KindMedia:
		return decodeMedia(payload)
	case KindVoice:
		return decodeVoice(payload)
	default:
		return nil, fmt.Errorf("%w: unknown kind tag %d", ErrMalformedEnvelope, kind)
	}
}

func decodeMedia(payload string) (Content, error) {
	rest, ok := strings.CutPrefix(payload, mediaPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing media prefix", ErrMalformedEnvelope)
	}
	head, hash, ok := strings.Cut(rest, "]")
	if !ok {
		return nil, fmt.Errorf("%w: unterminated media envelope", ErrMalformedEnvelope)
	}
	mediaType, fileName, ok := strings.Cut(head, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing media descriptor", ErrMalformedEnvelope)
	}
	return Media{Hash: hash, MediaType: mediaType, FileName: fileName}, nil
}

func decodeVoice(payload string) (Content, error) {
	rest, ok := strings.CutPrefix(payload, voicePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing voice prefix", ErrMalformedEnvelope)
	}
	marker, encoded, ok := strings.Cut(rest, "]")
	if !ok {
		return nil, fmt.Errorf("%w: unterminated voice envelope", ErrMalformedEnvelope)
	}
	var duration int
	if _, err := fmt.Sscanf(marker, "%ds", &duration); err != nil || duration < 0 {
		return nil, fmt.Errorf("%w: bad duration marker %q", ErrMalformedEnvelope, marker)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return Voice{Payload: data, Duration: duration}, nil
}

// DisplayBody renders a content variant for plain-text display. Media and
// voice payloads collapse to a short human-readable marker.
func DisplayBody(c Content) string {
	switch v := c.(type) {
	case Text:
		return v.Body
	case Media:
		return fmt.Sprintf("Shared %s: %s", v.MediaType, v.FileName)
	case Voice:
		return fmt.Sprintf("Voice message (%ds)", v.Duration)
	default:
		return ""
	}
}
