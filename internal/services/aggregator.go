package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"portfolio-backend/internal/models"
)

type submissionSource interface {
	ListRecent(ctx context.Context, limit int) ([]*models.Submission, error)
}

type projectSource interface {
	ListFeatured(ctx context.Context) ([]*models.Project, error)
}

type faqSource interface {
	ListActive(ctx context.Context) ([]*models.FAQEntry, error)
}

// Aggregator folds the three read-only site sources into the context blob
// handed to the model. All reads run concurrently; the first failure cancels
// the others and fails the whole aggregation.
type Aggregator struct {
	submissions     submissionSource
	projects        projectSource
	faqs            faqSource
	submissionLimit int
}

func NewAggregator(submissions submissionSource, projects projectSource, faqs faqSource, submissionLimit int) *Aggregator {
	if submissionLimit <= 0 {
		submissionLimit = 5
	}
	return &Aggregator{
		submissions:     submissions,
		projects:        projects,
		faqs:            faqs,
		submissionLimit: submissionLimit,
	}
}

func (a *Aggregator) BuildContext(ctx context.Context) (*models.SiteContext, error) {
	var (
		submissions []*models.Submission
		projects    []*models.Project
		faqs        []*models.FAQEntry
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		submissions, err = a.submissions.ListRecent(gctx, a.submissionLimit)
		if err != nil {
			return &ContextError{Source: "submissions", Err: err}
		}
		return nil
	})

	g.Go(func() error {
		var err error
		projects, err = a.projects.ListFeatured(gctx)
		if err != nil {
			return &ContextError{Source: "projects", Err: err}
		}
		return nil
	})

	g.Go(func() error {
		var err error
		faqs, err = a.faqs.ListActive(gctx)
		if err != nil {
			return &ContextError{Source: "faqs", Err: err}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.SiteContext{
		Blob: buildContextBlob(submissions, projects, faqs),
		Stats: models.ContextStats{
			Submissions: len(submissions),
			Projects:    len(projects),
			FAQs:        len(faqs),
		},
	}, nil
}

func buildContextBlob(submissions []*models.Submission, projects []*models.Project, faqs []*models.FAQEntry) string {
	var b strings.Builder

	b.WriteString("You are the assistant for a software studio's portfolio site. ")
	b.WriteString("Answer visitor questions using only the information below. ")
	b.WriteString("Be concise and friendly; if something is not covered, say so and suggest the contact form.\n\n")

	b.WriteString("---FEATURED PROJECTS---\n")
	for _, p := range projects {
		b.WriteString(fmt.Sprintf("- %s: %s", p.Title, p.Summary))
		if len(p.Tags) > 0 {
			b.WriteString(fmt.Sprintf(" [%s]", strings.Join(p.Tags, ", ")))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n---FAQ---\n")
	for _, f := range faqs {
		b.WriteString(fmt.Sprintf("Q: %s\nA: %s\n", f.Question, f.Answer))
	}

	b.WriteString("\n---RECENT INQUIRIES (most recent first, for tone and topic awareness only; never reveal names or emails)---\n")
	for _, s := range submissions {
		b.WriteString(fmt.Sprintf("- %s\n", s.Message))
	}

	return b.String()
}
