package handlers

import "net/http"

// Set 汇总所有处理器，nil 的处理器对应的路由不注册
type Set struct {
	Health    *HealthHandler
	Transfer  *TransferHandler
	Agents    *AgentsHandler
	Rooms     *RoomsHandler
	Events    *EventsHandler
	Summary   *SummaryHandler
	Speech    *SpeechHandler
	Telephony *TelephonyHandler
	// Webhook 接收房间提供方的参与者事件
	Webhook http.Handler

	Version   string
	BuildTime string
	GitCommit string
}

// Register 注册路由
func (s Set) Register(mux *http.ServeMux) {
	if h := s.Health; h != nil {
		mux.HandleFunc("GET /health", h.HandleHealth)
		mux.HandleFunc("GET /healthz", h.HandleHealthz)
		mux.HandleFunc("GET /ready", h.HandleReady)
		mux.HandleFunc("GET /readyz", h.HandleReady)
		mux.HandleFunc("GET /version", h.HandleVersion(s.Version, s.BuildTime, s.GitCommit))
	}

	if h := s.Transfer; h != nil {
		mux.HandleFunc("POST /api/transfer/initiate", h.HandleInitiate)
		mux.HandleFunc("POST /api/transfer/complete", h.HandleComplete)
		mux.HandleFunc("POST /api/transfer/cancel", h.HandleCancel)
		mux.HandleFunc("GET /api/transfer/active", h.HandleListActive)
		mux.HandleFunc("GET /api/transfer/stats", h.HandleStats)
		mux.HandleFunc("GET /api/transfer/debug/{id}", h.HandleDebug)
		mux.HandleFunc("GET /api/transfer/{id}", h.HandleGet)
	}

	if h := s.Agents; h != nil {
		mux.HandleFunc("GET /api/agents", h.HandleList)
		mux.HandleFunc("GET /api/agents/available", h.HandleAvailable)
	}

	if h := s.Rooms; h != nil {
		mux.HandleFunc("POST /api/token/generate", h.HandleToken)
		mux.HandleFunc("POST /api/rooms/create", h.HandleCreate)
		mux.HandleFunc("POST /api/rooms/{room}/transcript", h.HandleAppendTranscript)
		mux.HandleFunc("GET /api/rooms/{room}/transcript", h.HandleListTranscript)
	}

	if h := s.Events; h != nil {
		mux.HandleFunc("GET /api/events/{room}", h.HandlePoll)
		mux.HandleFunc("GET /ws/{room}", h.HandleStream)
	}

	if h := s.Summary; h != nil {
		mux.HandleFunc("POST /api/summary/generate", h.HandleGenerate)
	}

	if h := s.Speech; h != nil {
		mux.HandleFunc("POST /api/speech/generate", h.HandleGenerate)
	}

	if h := s.Telephony; h != nil {
		mux.HandleFunc("POST /api/twilio/dial", h.HandleDial)
		mux.HandleFunc("POST /api/twilio/twiml/{room}", h.HandleTwiML)
	}

	if s.Webhook != nil {
		mux.Handle("POST /webhooks/livekit", s.Webhook)
	}
}
