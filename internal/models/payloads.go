package models

// These structs define the JSON payloads exchanged between the HTTP and
// CloudEvent entry points and their callers (the web tier and Cloud Workflows).

// AnalyzeRequest is the input for the document-analyzer function.
type AnalyzeRequest struct {
	DocumentID string `json:"documentId"`
}

// AnalyzeResponse is the output of the document-analyzer function.
type AnalyzeResponse struct {
	Analysis *Analysis `json:"analysis"`
}

// AnalysisEvent is the CloudEvent data published by the dispatch workflow.
// The owner is carried explicitly because there is no caller session on this path.
type AnalysisEvent struct {
	DocumentID string `json:"documentId"`
	OwnerID    string `json:"ownerId"`
}

// ChatRequest is the input for the document-chat function.
type ChatRequest struct {
	DocumentID string `json:"documentId"`
	Message    string `json:"message"`
}

// ChatResponse carries the assistant turn produced for a ChatRequest.
type ChatResponse struct {
	Message *ChatTurn `json:"message"`
}

// ChatHistoryResponse lists every turn of a document's conversation.
type ChatHistoryResponse struct {
	Messages []ChatTurn `json:"messages"`
}

// UploadResponse is the output of the document-upload function.
type UploadResponse struct {
	Document *Document `json:"document"`
}

// DocumentResponse wraps a single document with its analysis.
type DocumentResponse struct {
	Document *DocumentView `json:"document"`
}

// DeleteResponse acknowledges a document deletion.
type DeleteResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Category string `json:"category"`
	Error    string `json:"error"`
}

// GenerateContractRequest is the input for the contract-generator function.
// Term values may be strings, numbers or booleans.
type GenerateContractRequest struct {
	ContractType      string         `json:"contractType"`
	PartyA            Party          `json:"partyA"`
	PartyB            Party          `json:"partyB"`
	Terms             map[string]any `json:"terms"`
	AdditionalClauses []string       `json:"additionalClauses,omitempty"`
}

// GenerateContractResponse carries the drafted contract.
type GenerateContractResponse struct {
	Contract *GeneratedContract `json:"contract"`
}
