package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/httpclient"
	"github.com/ciaranashton/relay-agent/internal/schema"
)

type GitHubIssueOptions struct {
	Token string `json:"token"`
	// Repo is "owner/repo".
	Repo    string   `json:"repo"`
	APIBase string   `json:"apiBase"`
	Labels  []string `json:"labels"`
}

var githubIssueSchema = schema.Object(
	schema.Prop("title", schema.String().Describe("Issue title")),
	schema.Prop("body", schema.String().Describe("Issue body in markdown")),
	schema.Optional("labels", schema.Array(schema.String()).Describe("Labels to apply")),
)

// GitHubIssue opens an issue in a fixed repository.
type GitHubIssue struct {
	client *gogithub.Client
	owner  string
	repo   string
	labels []string
	logger *slog.Logger
}

func NewGitHubIssue(opts GitHubIssueOptions, httpClient *http.Client, logger *slog.Logger) (*GitHubIssue, error) {
	if err := requireOption("github-issue", "token", opts.Token); err != nil {
		return nil, err
	}
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = httpclient.Shared(httpclient.DefaultTimeout)
	}
	client := gogithub.NewClient(httpClient).WithAuthToken(opts.Token)
	if opts.APIBase != "" {
		client, err = client.WithEnterpriseURLs(opts.APIBase, opts.APIBase)
		if err != nil {
			return nil, fmt.Errorf("github-issue apiBase: %w", err)
		}
	}
	return &GitHubIssue{client: client, owner: owner, repo: repo, labels: opts.Labels, logger: logger}, nil
}

func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

func (a *GitHubIssue) Name() string { return "github_issue" }

func (a *GitHubIssue) Description() string {
	return fmt.Sprintf("Open an issue in the %s/%s GitHub repository.", a.owner, a.repo)
}

func (a *GitHubIssue) Schema() *schema.Schema { return githubIssueSchema }

func (a *GitHubIssue) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	title, _ := args["title"].(string)
	body, _ := args["body"].(string)
	labels := append([]string{}, a.labels...)
	if raw, isList := args["labels"].([]any); isList {
		for _, l := range raw {
			if s, isString := l.(string); isString {
				labels = append(labels, s)
			}
		}
	}

	issue, resp, err := a.client.Issues.Create(ctx, a.owner, a.repo, &gogithub.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		var ge *gogithub.ErrorResponse
		if errors.As(err, &ge) && ge.Response != nil && ge.Response.StatusCode < 500 {
			return rejected(ge.Message)
		}
		return domain.ActionResult{}, fmt.Errorf("github create issue: %w", err)
	}
	if resp != nil && resp.Rate.Remaining < 100 {
		a.logger.Warn("github rate limit low", "remaining", resp.Rate.Remaining, "reset", resp.Rate.Reset.Time)
	}
	a.logger.Info("github issue created", "messageId", ectx.Message.ID, "number", issue.GetNumber())
	return ok(map[string]any{"number": issue.GetNumber(), "url": issue.GetHTMLURL()})
}
