package speechmatics

// Client to server messages.

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type transcriptionConfig struct {
	Language       string  `json:"language"`
	EnablePartials bool    `json:"enable_partials"`
	OperatingPoint string  `json:"operating_point,omitempty"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
	EnableEntities bool    `json:"enable_entities,omitempty"`
}

type startRecognition struct {
	Message             string              `json:"message"`
	AudioFormat         audioFormat         `json:"audio_format"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type endOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

// serverMessage covers the fields of every server message the engine reads.
type serverMessage struct {
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason,omitempty"`
	SeqNo    int    `json:"seq_no,omitempty"`
	Metadata struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata"`
}

const (
	msgStartRecognition     = "StartRecognition"
	msgEndOfStream          = "EndOfStream"
	msgRecognitionStarted   = "RecognitionStarted"
	msgAddTranscript        = "AddTranscript"
	msgAddPartialTranscript = "AddPartialTranscript"
	msgEndOfTranscript      = "EndOfTranscript"
	msgAudioAdded           = "AudioAdded"
	msgError                = "Error"
	msgWarning              = "Warning"
	msgInfo                 = "Info"
)
