package avatar

import "time"

// Timing constants for state-dependent animation behaviour.
const (
	// LingeringDuration is how long the avatar stays in SPEAKING after
	// TTS ends, so it doesn't visually snap back to idle.
	LingeringDuration = 2 * time.Second

	// LongThinkingThreshold is when THINKING starts showing a "still
	// processing" pulse.
	LongThinkingThreshold = 5 * time.Second

	// ErrorAutoDismiss is the delay before an error display clears
	// itself.
	ErrorAutoDismiss = 3 * time.Second
)
