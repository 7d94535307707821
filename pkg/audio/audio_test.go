package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Raikerian/go-discord-voicerec/pkg/audio"
)

func TestPCMInt16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16, 1234}

	b := audio.PCMInt16ToLE(samples)

	assert.Len(t, b, len(samples)*2)
	assert.Equal(t, []byte{0xFF, 0x7F}, b[6:8], "max int16 little-endian")
	assert.Equal(t, samples, audio.LEToPCMInt16(b))
}

func TestFloat32ToInt16_Clamps(t *testing.T) {
	out := audio.Float32ToInt16([]float32{2, -2, 0, 0.5})

	assert.Equal(t, []int16{math.MaxInt16, math.MinInt16, 0, 16384}, out)
}

func TestAnalyze(t *testing.T) {
	tests := map[string]struct {
		input         []float32
		wantNonFinite int
		wantZeroRatio float64
	}{
		"all_zero": {
			input:         make([]float32, 100),
			wantZeroRatio: 1,
		},
		"mixed": {
			input:         []float32{0, 0.5, -0.5, 0},
			wantZeroRatio: 0.5,
		},
		"non_finite": {
			input:         []float32{float32(math.NaN()), float32(math.Inf(1)), 0.25, 0},
			wantNonFinite: 2,
			wantZeroRatio: 0.25,
		},
		"empty": {
			input:         nil,
			wantZeroRatio: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			st := audio.Analyze(tt.input)

			assert.Equal(t, tt.wantNonFinite, st.NonFinite)
			assert.InDelta(t, tt.wantZeroRatio, st.ZeroRatio(), 1e-9)
			assert.False(t, math.IsNaN(float64(st.RMS)))
		})
	}
}

func TestFormat(t *testing.T) {
	f := audio.DiscordFormat

	assert.Equal(t, 192000, f.ByteRate())
	assert.Equal(t, 4, f.BlockAlign())
	assert.Equal(t, time.Second, f.Duration(192000))
	assert.Equal(t, time.Duration(0), audio.Format{}.Duration(10))
}
