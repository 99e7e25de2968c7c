package response

import "encoding/json"

// GetPolicyTokenResponse 前端直传文件至OSS的凭证
type GetPolicyTokenResponse struct {
	Policy           string `json:"policy"`
	SignatureVersion string `json:"x_oss_signature_version"`
	Credential       string `json:"x_oss_credential"`
	Date             string `json:"x_oss_date"`
	Signature        string `json:"signature"`
	Host             string `json:"host"`
	Dir              string `json:"dir"`
}

type FileMetadataResponse struct {
	FileID           uint            `json:"file_id"`
	FileName         string          `json:"file_name"`
	FileType         string          `json:"file_type"`
	FileSize         int64           `json:"file_size"`
	ProcessingStatus string          `json:"processing_status"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

type GetFileMetadataResponse struct {
	Metadata []FileMetadataResponse `json:"metadata"`
}

type GetPreSignedURLResponse struct {
	URL string `json:"url"`
}

type SearchFileMetadataResponse struct {
	Metadata []FileMetadataResponse `json:"metadata"`
}
