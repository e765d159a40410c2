package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/BaSui01/warmtransfer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpeaker struct {
	err   error
	texts []string
	voice string
}

func (s *fakeSpeaker) Speak(_ context.Context, text, voice string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.texts = append(s.texts, text)
	s.voice = voice
	return "UklGRg==", nil
}

func TestSpeechAPI(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		a := newTestAPI(t)
		status, body := a.do(t, http.MethodPost, "/api/speech/generate", SpeechRequest{Text: "hello"})
		assert.Equal(t, http.StatusNotImplemented, status)
		assert.Equal(t, string(types.ErrNotImplemented), decode[any](t, body).Error.Code)
	})

	t.Run("generate", func(t *testing.T) {
		sp := &fakeSpeaker{}
		a := newTestAPI(t, withSpeaker(sp))
		status, body := a.do(t, http.MethodPost, "/api/speech/generate", SpeechRequest{Text: "Transfer summary ready", Voice: "nova"})
		require.Equal(t, http.StatusOK, status, string(body))
		resp := decode[SpeechResponse](t, body).Data
		assert.Equal(t, "UklGRg==", resp.Audio)
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, []string{"Transfer summary ready"}, sp.texts)
		assert.Equal(t, "nova", sp.voice)
	})

	t.Run("missing text", func(t *testing.T) {
		sp := &fakeSpeaker{}
		a := newTestAPI(t, withSpeaker(sp))
		status, _ := a.do(t, http.MethodPost, "/api/speech/generate", SpeechRequest{Voice: "alloy"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Empty(t, sp.texts)
	})

	t.Run("provider error", func(t *testing.T) {
		sp := &fakeSpeaker{err: types.NewError(types.ErrExternalService, "tts down").WithProvider("openai")}
		a := newTestAPI(t, withSpeaker(sp))
		status, _ := a.do(t, http.MethodPost, "/api/speech/generate", SpeechRequest{Text: "hello"})
		assert.Equal(t, http.StatusBadGateway, status)
	})
}
