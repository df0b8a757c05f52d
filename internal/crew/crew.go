package crew

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/research"
	fetchmodels "github.com/cognito-ai/cognito/tools/web_fetch/models"
	searchmodels "github.com/cognito-ai/cognito/tools/web_search/models"
)

// Searcher discovers candidate sources for a query.
type Searcher interface {
	Discover(ctx context.Context, q string, k int) ([]searchmodels.Result, error)
}

// Fetcher extracts readable text from a page.
type Fetcher interface {
	Exec(ctx context.Context, url string) (fetchmodels.Result, error)
}

// LLM is the generation capability the agents run on.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Crew coordinates the researcher and writer agents for one pipeline run.
type Crew struct {
	searcher Searcher
	fetcher  Fetcher
	llm      LLM
	cfg      config.WebSearchConfig
	logger   *log.Logger
}

func New(searcher Searcher, fetcher Fetcher, llm LLM, cfg config.WebSearchConfig) *Crew {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Crew{
		searcher: searcher,
		fetcher:  fetcher,
		llm:      llm,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[CREW] ", log.LstdFlags),
	}
}

// ResearchResult is what the researcher hands to the writer.
type ResearchResult struct {
	Task     research.AgentTask
	Findings string
	Sources  []research.Source
}

// RunResearcher gathers sources for the topic and aggregates them into
// structured findings. Individual source failures are tolerated; producing no
// usable sources at all fails the stage.
func (c *Crew) RunResearcher(ctx context.Context, jobID, topic, contextBlock string) (ResearchResult, error) {
	task := c.newTask(jobID, research.RoleResearcher, topic)

	results, err := c.searchWithRetry(ctx, topic)
	if err != nil {
		return c.failResearch(task, fmt.Errorf("%w: search: %v", research.ErrResearchFailed, err))
	}
	if len(results) == 0 {
		return c.failResearch(task, fmt.Errorf("%w: no search results for topic", research.ErrResearchFailed))
	}

	sources := c.gatherSources(ctx, results)
	if len(sources) == 0 {
		return c.failResearch(task, fmt.Errorf("%w: no sources yielded content", research.ErrResearchFailed))
	}

	prompt := buildResearchPrompt(topic, contextBlock, sources)
	findings, err := c.generateWithRetry(ctx, researcherRole.System, prompt)
	if err != nil {
		return c.failResearch(task, fmt.Errorf("%w: %v", research.ErrResearchFailed, err))
	}

	task.Output = findings
	task.Status = research.TaskStatusSucceeded
	task.CompletedAt = time.Now()
	c.logger.Printf("researcher finished for job %s with %d sources", jobID, len(sources))
	return ResearchResult{Task: task, Findings: findings, Sources: sources}, nil
}

// RunWriter turns findings plus the retrieved context into the final report.
// An empty report is a failure, never a success with empty output.
func (c *Crew) RunWriter(ctx context.Context, jobID, topic, findings, contextBlock string) (research.AgentTask, string, error) {
	task := c.newTask(jobID, research.RoleWriter, findings)

	if strings.TrimSpace(contextBlock) == "" {
		contextBlock = "No relevant context found."
	}
	prompt := fmt.Sprintf("Topic: %s\n\nPrior knowledge:\n%s\n\nFindings:\n%s\n\nWrite the report.", topic, contextBlock, findings)
	report, err := c.generateWithRetry(ctx, writerRole.System, prompt)
	if err != nil {
		task.Status = research.TaskStatusFailed
		task.Error = err.Error()
		task.CompletedAt = time.Now()
		return task, "", fmt.Errorf("%w: %v", research.ErrWriteFailed, err)
	}
	if strings.TrimSpace(report) == "" {
		task.Status = research.TaskStatusFailed
		task.Error = "empty report"
		task.CompletedAt = time.Now()
		return task, "", fmt.Errorf("%w: empty report", research.ErrWriteFailed)
	}

	task.Output = report
	task.Status = research.TaskStatusSucceeded
	task.CompletedAt = time.Now()
	c.logger.Printf("writer finished for job %s (%d chars)", jobID, len(report))
	return task, report, nil
}

func (c *Crew) newTask(jobID string, role research.AgentRole, input string) research.AgentTask {
	return research.AgentTask{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Role:      role,
		Input:     input,
		Status:    research.TaskStatusRunning,
		StartedAt: time.Now(),
	}
}

func (c *Crew) failResearch(task research.AgentTask, err error) (ResearchResult, error) {
	task.Status = research.TaskStatusFailed
	task.Error = err.Error()
	task.CompletedAt = time.Now()
	return ResearchResult{Task: task}, err
}

// searchWithRetry retries transient tool failures with exponential backoff.
// Non-retryable failures surface immediately.
func (c *Crew) searchWithRetry(ctx context.Context, topic string) ([]searchmodels.Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			c.logger.Printf("search retry %d/%d after %s: %v", attempt, c.cfg.MaxAttempts-1, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		results, err := c.searcher.Discover(ctx, topic, c.cfg.MaxResults)
		if err == nil {
			return results, nil
		}
		lastErr = err
		var toolErr *research.ToolError
		if !errors.As(err, &toolErr) || !toolErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

// gatherSources scrapes each result, falling back to the search snippet when
// the page cannot be fetched.
func (c *Crew) gatherSources(ctx context.Context, results []searchmodels.Result) []research.Source {
	var sources []research.Source
	for _, r := range results {
		if ctx.Err() != nil {
			break
		}
		src := research.Source{URL: r.URL, Title: r.Title, Snippet: r.Snippet}
		page, err := c.fetcher.Exec(ctx, r.URL)
		if err != nil {
			c.logger.Printf("fetch failed for %s, keeping snippet: %v", r.URL, err)
		} else {
			if page.Title != "" {
				src.Title = page.Title
			}
			src.Text = page.Text
		}
		if src.Text == "" && src.Snippet == "" {
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

// generateWithRetry retries generation once on failure.
func (c *Crew) generateWithRetry(ctx context.Context, system, prompt string) (string, error) {
	out, err := c.llm.Generate(ctx, system, prompt)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	c.logger.Printf("generation retry after: %v", err)
	return c.llm.Generate(ctx, system, prompt)
}

func buildResearchPrompt(topic, contextBlock string, sources []research.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString("Prior knowledge:\n")
	if strings.TrimSpace(contextBlock) == "" {
		b.WriteString("No relevant context found.")
	} else {
		b.WriteString(contextBlock)
	}
	b.WriteString("\n\nGathered material:\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "\n[%d] %s\nURL: %s\n", i+1, src.Title, src.URL)
		text := src.Text
		if text == "" {
			text = src.Snippet
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString("\nProduce the structured findings.")
	return b.String()
}
