package models

// CallerContext identifies who asked for an extraction. It is opaque to the
// pool and pipelines and only consulted for credit accounting and limits.
type CallerContext struct {
	ProjectID string `json:"projectId"`
	APIKeyID  string `json:"apiKeyId,omitempty"`
}
