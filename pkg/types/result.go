package types

import "time"

// TemplateRecord is the metadata kept for each vector of the template index
type TemplateRecord struct {
	Template  string `json:"template"`
	Frequency int    `json:"frequency"`
	Filename  string `json:"filename"`
}

// Validate checks if the template record is valid
func (r TemplateRecord) Validate() error {
	if r.Template == "" {
		return ErrEmptyTemplate
	}
	if r.Frequency < 1 {
		return ErrInvalidFrequency
	}
	return nil
}

// SearchResult is a single semantic search hit
type SearchResult struct {
	Filename   string  `json:"filename"`
	Template   string  `json:"template"`
	Frequency  int     `json:"frequency"`
	Similarity float64 `json:"similarity"`
}

// UploadedFile describes a file handed over by the upload collaborator
type UploadedFile struct {
	InternalName string    `json:"internal_name"`
	Path         string    `json:"path"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
