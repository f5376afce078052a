package audio

import "time"

const (
	DefaultSilenceDebounce = time.Second
	defaultPreRollFrames   = 5
)

// TurnConfig controls capture-side turn detection.
type TurnConfig struct {
	// SilenceDebounce is how long silence must last before a turn ends.
	SilenceDebounce time.Duration
	// StreamAll forwards every frame, including silence, for backends that
	// run their own voice activity detection.
	StreamAll bool
	// PreRollFrames are buffered while idle and sent when speech starts so
	// the first syllable is not clipped.
	PreRollFrames int
}

// CaptureResult tells the caller what to do with one captured frame.
type CaptureResult struct {
	Forward       [][]byte
	SpeechStarted bool
	TurnEnded     bool
}

// TurnDetector turns a stream of captured frames into speech segments.
// It is not safe for concurrent use.
type TurnDetector struct {
	cfg        TurnConfig
	classifier Classifier

	speaking bool
	silence  time.Duration
	preRoll  [][]byte
}

func NewTurnDetector(cfg TurnConfig, classifier Classifier) *TurnDetector {
	if cfg.SilenceDebounce <= 0 {
		cfg.SilenceDebounce = DefaultSilenceDebounce
	}
	if cfg.PreRollFrames < 0 {
		cfg.PreRollFrames = 0
	} else if cfg.PreRollFrames == 0 {
		cfg.PreRollFrames = defaultPreRollFrames
	}
	if classifier == nil {
		classifier = NewEnergyVAD(0)
	}
	return &TurnDetector{cfg: cfg, classifier: classifier}
}

func (d *TurnDetector) Process(f Frame) CaptureResult {
	if len(f.PCM) == 0 {
		return CaptureResult{}
	}
	speech := d.classifier.IsSpeech(f.PCM)

	if !d.speaking {
		if !speech {
			if d.cfg.StreamAll {
				return CaptureResult{Forward: [][]byte{f.PCM}}
			}
			d.pushPreRoll(f.PCM)
			return CaptureResult{}
		}
		d.speaking = true
		d.silence = 0
		forward := append(d.preRoll, f.PCM)
		d.preRoll = nil
		return CaptureResult{Forward: forward, SpeechStarted: true}
	}

	res := CaptureResult{Forward: [][]byte{f.PCM}}
	if speech {
		d.silence = 0
		return res
	}
	d.silence += f.Duration()
	if d.silence >= d.cfg.SilenceDebounce {
		d.speaking = false
		d.silence = 0
		res.TurnEnded = true
	}
	return res
}

// Reset drops any partial segment.
func (d *TurnDetector) Reset() {
	d.speaking = false
	d.silence = 0
	d.preRoll = nil
}

func (d *TurnDetector) pushPreRoll(pcm []byte) {
	if d.cfg.StreamAll || d.cfg.PreRollFrames == 0 {
		return
	}
	d.preRoll = append(d.preRoll, pcm)
	if len(d.preRoll) > d.cfg.PreRollFrames {
		d.preRoll = d.preRoll[len(d.preRoll)-d.cfg.PreRollFrames:]
	}
}
