package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
)

// Sign returns a copy of r whose audio examples carry fresh URLs. r itself
// is left untouched.
func Sign(ctx context.Context, r Report, store audio.Store) Report {
	out := r
	src := r.Tabs.Organization.AudioExamples
	examples := make([]AudioExample, len(src))
	for i, ex := range src {
		path := ex.AudioPath
		ex.AudioURL = audio.SignOrNil(ctx, store, &path)
		examples[i] = ex
	}
	out.Tabs.Organization.AudioExamples = examples
	return out
}

// Decode reads a report stored on a session row. Stored reports never carry
// audio URLs.
func Decode(raw []byte) (*Report, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	for i := range r.Tabs.Organization.AudioExamples {
		r.Tabs.Organization.AudioExamples[i].AudioURL = nil
	}
	return &r, nil
}
