package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"pdca/api/internal/logger"
	"pdca/api/internal/store"
	"pdca/api/internal/workflow"
)

const (
	SourceOllama   = "ollama"
	SourceTemplate = "template"
)

type Store interface {
	GetGoal(ctx context.Context, id string) (store.Goal, error)
	ListGoalStatusHistory(ctx context.Context, goalID string) ([]store.GoalStatusChange, error)
	UpsertGoalAnalysis(ctx context.Context, analysis store.GoalAnalysis) (store.GoalAnalysis, error)
}

type Options struct {
	Delay         time.Duration
	Retries       uint64
	RetryInterval time.Duration
	Timeout       time.Duration
}

// Analyzer produces goal analyses on demand and in the background.
type Analyzer struct {
	configs   ConfigStore
	completer Completer
	store     Store
	log       *logger.Logger
	opts      Options
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAnalyzer(configs ConfigStore, completer Completer, store Store, log *logger.Logger, opts Options) *Analyzer {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Analyzer{
		configs:   configs,
		completer: completer,
		store:     store,
		log:       log,
		opts:      opts,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Analyze generates and stores the analysis of a goal. Model failures fall
// back to the templated analysis and are not returned as errors.
func (a *Analyzer) Analyze(ctx context.Context, goalID string) (store.GoalAnalysis, error) {
	settings, err := a.configs.Load(ctx)
	if err != nil {
		return store.GoalAnalysis{}, fmt.Errorf("load ai settings: %w", err)
	}
	goal, err := a.store.GetGoal(ctx, goalID)
	if err != nil {
		return store.GoalAnalysis{}, err
	}
	history, err := a.store.ListGoalStatusHistory(ctx, goalID)
	if err != nil {
		return store.GoalAnalysis{}, err
	}

	result := TemplateAnalysis(goal, a.now())
	if settings.Enabled && a.completer != nil {
		callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		output, err := a.completer.Complete(callCtx, settings, BuildPrompt(goal, history, a.now()))
		cancel()
		if err != nil {
			a.log.Warn("ollama analysis failed, using template", "goal_id", goalID, "error", err)
		} else {
			summary, recommendations := ParseOutput(output)
			result = store.GoalAnalysis{
				GoalID:          goal.ID,
				Summary:         summary,
				Recommendations: recommendations,
				Model:           settings.Model,
				Source:          SourceOllama,
			}
		}
	}
	return a.store.UpsertGoalAnalysis(ctx, result)
}

// Schedule analyses a goal in the background after the configured delay when
// auto analysis is enabled. Transient failures are retried with a constant
// backoff. A goal that no longer exists ends the attempt without a retry.
func (a *Analyzer) Schedule(goalID string) {
	settings, err := a.configs.Load(a.ctx)
	if err != nil {
		a.log.Warn("load ai settings", "error", err)
		return
	}
	if !settings.AutoAnalyze {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		timer := time.NewTimer(a.opts.Delay)
		defer timer.Stop()
		select {
		case <-a.ctx.Done():
			return
		case <-timer.C:
		}

		backoff := retry.WithMaxRetries(a.opts.Retries, retry.NewConstant(a.opts.RetryInterval))
		err := retry.Do(a.ctx, backoff, func(ctx context.Context) error {
			_, err := a.Analyze(ctx, goalID)
			if errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("background analysis failed", "goal_id", goalID, "error", err)
			return
		}
		if err == nil {
			a.log.Debug("background analysis stored", "goal_id", goalID)
		}
	}()
}

// Close cancels pending background analyses and waits for them to stop.
func (a *Analyzer) Close() {
	a.cancel()
	a.wg.Wait()
}

// BuildPrompt describes goal and its status history for the model.
func BuildPrompt(goal store.Goal, history []store.GoalStatusChange, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal.Title)
	if goal.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", goal.Description)
	}
	fmt.Fprintf(&b, "Department: %s\n", goal.Department)
	fmt.Fprintf(&b, "Status: %s\n", goal.Status)
	fmt.Fprintf(&b, "Priority: %s\n", goal.Priority)
	fmt.Fprintf(&b, "Progress: %d%%\n", goal.Progress)
	if goal.DueDate != nil {
		fmt.Fprintf(&b, "Due: %s (%s)\n", goal.DueDate.Format("2006-01-02"), dueDescription(goal, now))
	}
	if len(history) > 0 {
		b.WriteString("Status history:\n")
		for _, change := range history {
			fmt.Fprintf(&b, "- %s: %s -> %s", change.ChangedAt.Format("2006-01-02"), change.FromStatus, change.ToStatus)
			if change.Note != "" {
				fmt.Fprintf(&b, " (%s)", change.Note)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseOutput splits model output into a summary and bullet recommendations.
func ParseOutput(output string) (string, []string) {
	var summary []string
	recommendations := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if item, ok := bullet(line); ok {
			recommendations = append(recommendations, item)
			continue
		}
		if len(recommendations) == 0 {
			summary = append(summary, line)
		}
	}
	return strings.Join(summary, " "), recommendations
}

func bullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:]), true
	}
	return "", false
}

// TemplateAnalysis is the placeholder produced without a model.
func TemplateAnalysis(goal store.Goal, now time.Time) store.GoalAnalysis {
	summary := fmt.Sprintf("%q is in the %s phase at %d%% progress with %s priority.",
		goal.Title, goal.Status, goal.Progress, strings.ToLower(goal.Priority))
	if goal.DueDate != nil {
		summary += " It is " + dueDescription(goal, now) + "."
	}

	var recommendations []string
	switch goal.Status {
	case string(workflow.StatusPlan):
		recommendations = []string{
			"Define measurable success criteria before moving to Do.",
			"Confirm owner and assignees for each planned action.",
		}
	case string(workflow.StatusDo):
		recommendations = []string{
			"Track progress against the plan and record deviations.",
			"Keep the progress value up to date so Check has accurate data.",
		}
	case string(workflow.StatusCheck):
		recommendations = []string{
			"Compare results with the success criteria defined in Plan.",
			"Document what worked and what did not.",
		}
	case string(workflow.StatusAct):
		recommendations = []string{
			"Standardise the changes that worked.",
			"Start a new Plan for the gaps found during Check.",
		}
	case string(workflow.StatusOnHold):
		recommendations = []string{"Record the blocker and set a date to revisit the goal."}
	default:
		recommendations = []string{"Review the outcome with the team and capture lessons learned."}
	}
	if goal.DueDate != nil && goal.DueDate.Before(now) && goal.Status != string(workflow.StatusCompleted) && goal.Status != string(workflow.StatusCancelled) {
		recommendations = append(recommendations, "The due date has passed; agree on a new date or reduce scope.")
	}

	return store.GoalAnalysis{
		GoalID:          goal.ID,
		Summary:         summary,
		Recommendations: recommendations,
		Source:          SourceTemplate,
	}
}

func dueDescription(goal store.Goal, now time.Time) string {
	days := int(goal.DueDate.Sub(now).Hours() / 24)
	switch {
	case days < 0:
		return fmt.Sprintf("overdue by %d days", -days)
	case days == 0:
		return "due today"
	default:
		return fmt.Sprintf("due in %d days", days)
	}
}
