package events

import (
	"context"
	"encoding/json"

	types "github.com/yungbote/voicecoach-backend/internal/domain"
	"github.com/yungbote/voicecoach-backend/internal/voicecoach/audio"
)

// SignedData returns the event payload as served to clients. Audio events
// get a fresh URL for their stored path and the path itself is dropped.
// Other payloads, and payloads that fail to decode, pass through unchanged.
func SignedData(ctx context.Context, store audio.Store, ev *types.Event) json.RawMessage {
	raw := json.RawMessage(ev.Data)
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if ev.Type != types.EventAsrReady && ev.Type != types.EventCustomerAudioReady {
		return raw
	}
	data, err := ev.Payload()
	if err != nil {
		return raw
	}
	var out any
	switch v := data.(type) {
	case types.AsrReady:
		v.AudioURL = audio.SignOrNil(ctx, store, v.AudioPath)
		v.AudioPath = nil
		out = v
	case types.CustomerAudioReady:
		v.AudioURL = audio.SignOrNil(ctx, store, v.AudioPath)
		v.AudioPath = nil
		out = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return raw
	}
	return b
}
