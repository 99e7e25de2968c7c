package response

type VoiceRecognitionResponse struct {
	Text string `json:"text"`
}
