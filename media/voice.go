// Package media validates voice clips before they enter the send pipeline.
//
// The ledger layer is ignorant of media beyond the declared kind, so any
// malformed clip that reaches it would be stored permanently. Validation
// happens once, client-side, at the boundary where audio bytes become a
// message payload. Opus is the expected encoding; the pion/opus decoder is
// used as a best-effort probe, not a gate, because the envelope format does
// not forbid other encodings.
package media

import (
	"errors"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// MaxDuration is the longest accepted voice clip in seconds.
const MaxDuration = 300

// MaxPayloadSize caps the encoded clip size; content-addressed bodies are
// cheap but the registry fee is paid per message regardless of outcome.
const MaxPayloadSize = 1 << 20

// ErrEmptyClip indicates a clip with no audio data.
var ErrEmptyClip = errors.New("voice clip is empty")

// ErrClipTooLong indicates a duration above MaxDuration.
var ErrClipTooLong = errors.New("voice clip duration exceeds maximum")

// ErrClipTooLarge indicates a payload above MaxPayloadSize.
var ErrClipTooLarge = errors.New("voice clip payload exceeds maximum size")

// ErrBadDuration indicates a zero or negative duration marker.
var ErrBadDuration = errors.New("voice clip duration must be positive")

// ValidateClip checks a voice payload and its duration marker against the
// send pipeline's limits.
func ValidateClip(payload []byte, durationSeconds int) error {
	logrus.WithFields(logrus.Fields{
		"function":     "ValidateClip",
		"payload_size": len(payload),
		"duration":     durationSeconds,
	}).Debug("Validating voice clip")

	if len(payload) == 0 {
		return ErrEmptyClip
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrClipTooLarge, len(payload))
	}
	if durationSeconds <= 0 {
		return ErrBadDuration
	}
	if durationSeconds > MaxDuration {
		return fmt.Errorf("%w: %ds", ErrClipTooLong, durationSeconds)
	}
	return nil
}

// ProbeOpus reports whether the first frame of payload decodes as Opus.
// A false result does not make a clip invalid; it is logged so operators
// can spot clients uploading unexpected encodings.
func ProbeOpus(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	decoder := opus.NewDecoder()
	out := make([]byte, 1920*4)

	bandwidth, stereo, err := decoder.Decode(payload, out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProbeOpus",
			"error":    err.Error(),
		}).Debug("Payload did not decode as Opus")
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":  "ProbeOpus",
		"bandwidth": bandwidth.String(),
		"stereo":    stereo,
	}).Debug("Opus probe succeeded")
	return true
}
