package engine

// The bridge speaks one JSON object per line over stdio: a Request line in,
// a Response line out, strictly in order.

type Request struct {
	AudioPath string `json:"audioPath"`
	ModelID   string `json:"modelId"`
	Language  string `json:"language,omitempty"`
}

type Response struct {
	Text string `json:"text"`

	// Language is the detected language when the request left it empty.
	Language string `json:"language,omitempty"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
