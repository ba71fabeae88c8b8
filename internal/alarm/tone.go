package alarm

import (
	"io"
	"sync"
	"time"
)

// ToneKind distinguishes audible alarm beeps from the keep-alive signal.
type ToneKind string

const (
	ToneBeep      ToneKind = "beep"
	ToneKeepAlive ToneKind = "keepalive"
)

// Tone describes one synthetic sound for a sink to render.
type Tone struct {
	Kind       ToneKind `json:"kind"`
	Waveform   string   `json:"waveform"`
	StartHz    float64  `json:"start_hz"`
	EndHz      float64  `json:"end_hz"`
	SweepMS    int      `json:"sweep_ms"`
	Gain       float64  `json:"gain"`
	EndGain    float64  `json:"end_gain"`
	DecayMS    int      `json:"decay_ms"`
	DurationMS int      `json:"duration_ms"`
}

// BeepTone is a short square-wave chirp dropping from A5 to A4.
var BeepTone = Tone{
	Kind:       ToneBeep,
	Waveform:   "square",
	StartHz:    880,
	EndHz:      440,
	SweepMS:    100,
	Gain:       0.5,
	EndGain:    0.01,
	DecayMS:    500,
	DurationMS: 600,
}

// KeepAliveTone is an inaudible 1 Hz sine lasting one keep-alive period.
func KeepAliveTone(period time.Duration) Tone {
	return Tone{
		Kind:       ToneKeepAlive,
		Waveform:   "sine",
		StartHz:    1,
		EndHz:      1,
		Gain:       0.001,
		EndGain:    0.001,
		DurationMS: int(period / time.Millisecond),
	}
}

// ToneSink renders tones. Play must not block.
type ToneSink interface {
	Play(Tone)
}

// Bell rings the terminal bell for every beep and ignores keep-alive tones.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBell writes BEL characters to w.
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

func (b *Bell) Play(t Tone) {
	if t.Kind != ToneBeep {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.w.Write([]byte{'\a'})
}
