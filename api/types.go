package api

// TokenizeRequest is the request passed to [Client.Tokenize].
type TokenizeRequest struct {
	// Text is the input to tokenize. It must not be empty.
	Text string `json:"text"`
}

// TokenizeResponse holds the subword tokens of the request text and their
// ids in the same order.
type TokenizeResponse struct {
	Tokens []string `json:"tokens"`
	IDs    []int32  `json:"ids"`
}

// DetokenizeRequest is the request passed to [Client.Detokenize].
type DetokenizeRequest struct {
	IDs []int32 `json:"ids"`
}

// DetokenizeResponse is the response from [Client.Detokenize].
type DetokenizeResponse struct {
	Tokens []string `json:"tokens"`
	Text   string   `json:"text"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
