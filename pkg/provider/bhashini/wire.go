package bhashini

import (
	"encoding/binary"

	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// ULCA pipeline task type identifiers.
const (
	taskASR         = "asr"
	taskTranslation = "translation"
	taskTTS         = "tts"
	taskLangDetect  = "audio-lang-detection"
)

// languagePair is the source/target language block of a task config. Wire
// codes are Bhashini's short identifiers, not ISO 639-3.
type languagePair struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// taskConfig parameterises one pipeline task.
type taskConfig struct {
	Language     *languagePair `json:"language,omitempty"`
	AudioFormat  string        `json:"audioFormat,omitempty"`
	SamplingRate int           `json:"samplingRate,omitempty"`
	Gender       string        `json:"gender,omitempty"`
}

// pipelineTask names one task and its configuration.
type pipelineTask struct {
	TaskType string     `json:"taskType"`
	Config   taskConfig `json:"config"`
}

// audioInput carries one base64-encoded audio payload.
type audioInput struct {
	AudioContent string `json:"audioContent"`
}

// textInput carries one text payload.
type textInput struct {
	Source string `json:"source"`
}

// inputData is the shared input block; audio tasks use Audio, text tasks Input.
type inputData struct {
	Audio []audioInput `json:"audio,omitempty"`
	Input []textInput  `json:"input,omitempty"`
}

// pipelineRequest is the body POSTed to the inference endpoint.
type pipelineRequest struct {
	PipelineTasks []pipelineTask `json:"pipelineTasks"`
	InputData     inputData      `json:"inputData"`
}

// langPrediction is one candidate from the language detection task.
type langPrediction struct {
	LangCode string  `json:"langCode"`
	ScoreVal float64 `json:"langScore"`
}

// taskOutput is one output element of a completed task. Which fields are set
// depends on the task type.
type taskOutput struct {
	Source         string           `json:"source,omitempty"`
	Target         string           `json:"target,omitempty"`
	Confidence     float64          `json:"confidence,omitempty"`
	LangPrediction []langPrediction `json:"langPrediction,omitempty"`
}

// taskResponse is the completed form of one pipeline task.
type taskResponse struct {
	TaskType string       `json:"taskType"`
	Output   []taskOutput `json:"output,omitempty"`
	Audio    []audioInput `json:"audio,omitempty"`
}

// pipelineResponse is the body returned by the inference endpoint.
type pipelineResponse struct {
	PipelineResponse []taskResponse `json:"pipelineResponse"`
}

// task returns the response block for the given task type, or nil.
func (r *pipelineResponse) task(taskType string) *taskResponse {
	for i := range r.PipelineResponse {
		if r.PipelineResponse[i].TaskType == taskType {
			return &r.PipelineResponse[i]
		}
	}
	return nil
}

// wireCodes maps ISO 639-3 tags to the short codes Bhashini speaks. Konkani is
// served under the Goan Konkani code.
var wireCodes = map[voice.LanguageTag]string{
	voice.Hindi:     "hi",
	voice.Telugu:    "te",
	voice.Tamil:     "ta",
	voice.Kannada:   "kn",
	voice.Marathi:   "mr",
	voice.Bengali:   "bn",
	voice.Gujarati:  "gu",
	voice.Punjabi:   "pa",
	voice.Malayalam: "ml",
	voice.Assamese:  "as",
	voice.Odia:      "or",
	voice.Urdu:      "ur",
	voice.Kashmiri:  "ks",
	voice.Konkani:   "gom",
	voice.Nepali:    "ne",
	voice.Bodo:      "brx",
	voice.Dogri:     "doi",
	voice.Maithili:  "mai",
	voice.Manipuri:  "mni",
	voice.Santali:   "sat",
	voice.Sindhi:    "sd",
	voice.Sanskrit:  "sa",
	voice.English:   "en",
}

// tagsByWireCode is the reverse of wireCodes, built once at init.
var tagsByWireCode = func() map[string]voice.LanguageTag {
	m := make(map[string]voice.LanguageTag, len(wireCodes))
	for tag, code := range wireCodes {
		m[code] = tag
	}
	return m
}()

// wireCode converts a supported tag to its Bhashini wire code. An unsupported
// tag is a validation error.
func wireCode(tag voice.LanguageTag) (string, error) {
	code, ok := wireCodes[tag]
	if !ok {
		return "", fault.Newf(fault.KindValidation, "bhashini: unsupported language %q", tag)
	}
	return code, nil
}

// tagForWireCode converts a Bhashini wire code back to an ISO 639-3 tag.
func tagForWireCode(code string) (voice.LanguageTag, bool) {
	tag, ok := tagsByWireCode[code]
	return tag, ok
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// stripWAVHeader removes a RIFF header when present so the returned clip
// carries raw PCM. Some deployments return raw PCM already; those pass through
// unchanged.
func stripWAVHeader(data []byte) []byte {
	if len(data) > 44 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return data[44:]
	}
	return data
}
