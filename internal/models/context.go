package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission is a contact-form record. The assistant only reads these; the
// form's own submission flow lives outside this service.
type Submission struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is a featured portfolio entry.
type Project struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Tags       []string  `json:"tags"`
	IsFeatured bool      `json:"is_featured"`
	CreatedAt  time.Time `json:"created_at"`
}

// FAQEntry is one active knowledge-base entry.
type FAQEntry struct {
	ID       uuid.UUID `json:"id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	IsActive bool      `json:"is_active"`
}

// ContextStats are the per-category counts derived while aggregating.
type ContextStats struct {
	Submissions int `json:"submissions"`
	Projects    int `json:"projects"`
	FAQs        int `json:"faqs"`
}

// SiteContext is the per-request aggregation result. The blob is never
// persisted; it is rebuilt on every request so it reflects current data.
type SiteContext struct {
	Blob  string
	Stats ContextStats
}
