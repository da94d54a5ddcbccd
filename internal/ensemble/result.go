package ensemble

import (
	"bytes"
	"encoding/json"
)

// NonCTMessage is returned in Result.Error when the validator rejects an
// upload.
const NonCTMessage = "Non-CT image detected"

// ModelResult is one model's vote.
type ModelResult struct {
	Model      string  `json:"-"`
	Case       string  `json:"case"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one prediction. Either Error is set and nothing
// else, or Models holds one entry per registry model in registry order and
// FinalCase the majority label.
type Result struct {
	Models    []ModelResult
	FinalCase string
	Error     string
}

func (r *Result) Rejected() bool {
	return r.Error != ""
}

// MarshalJSON writes the per-model results keyed by model name, in registry
// order, followed by final_case; or a lone error field.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Rejected() {
		return json.Marshal(map[string]string{"error": r.Error})
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, m := range r.Models {
		key, err := json.Marshal(m.Model)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
		buf.WriteByte(',')
	}
	finalCase, err := json.Marshal(r.FinalCase)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"final_case":`)
	buf.Write(finalCase)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
