// Package notify creates in-app notifications for goal activity and mails a
// copy when SMTP is configured.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pdca/api/internal/email"
	"pdca/api/internal/logger"
	"pdca/api/internal/store"
	"pdca/api/internal/workflow"
)

const (
	KindGoalAssigned  = "goal_assigned"
	KindStatusChanged = "status_changed"
	KindComment       = "comment"
	KindReply         = "comment_reply"
)

type Store interface {
	InsertNotifications(ctx context.Context, items []store.Notification) ([]store.Notification, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error)
}

type Mailer interface {
	IsConfigured() bool
	SendNotificationEmail(to, userName string, data email.NotificationData) error
}

// Notifier writes notifications synchronously and mails copies in the
// background. Close waits for mail still in flight.
type Notifier struct {
	store     Store
	mailer    Mailer
	log       *logger.Logger
	publicURL string
	mail      sync.WaitGroup
}

func New(store Store, mailer Mailer, log *logger.Logger, publicURL string) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{store: store, mailer: mailer, log: log, publicURL: strings.TrimRight(publicURL, "/")}
}

// Recipients returns ids without blanks, duplicates or the actor.
func Recipients(actorID string, ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		if id == "" || id == actorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GoalAssigned notifies users newly added to a goal.
func (n *Notifier) GoalAssigned(ctx context.Context, goal store.Goal, actorID string, assignees []string) error {
	return n.send(ctx, goal, Recipients(actorID, assignees...), KindGoalAssigned,
		"You were assigned to a goal",
		fmt.Sprintf("You were assigned to %q.", goal.Title))
}

// StatusChanged notifies owner and assignees as allowed by policy.
func (n *Notifier) StatusChanged(ctx context.Context, goal store.Goal, from, to workflow.Status, actorID string, policy workflow.NotificationRuleConfig) error {
	if !policy.NotifyOnStatusChange {
		return nil
	}
	var ids []string
	if policy.NotifyOwner {
		ids = append(ids, goal.OwnerID)
	}
	if policy.NotifyAssignees {
		ids = append(ids, goal.Assignees...)
	}
	return n.send(ctx, goal, Recipients(actorID, ids...), KindStatusChanged,
		fmt.Sprintf("Goal moved to %s", to),
		fmt.Sprintf("%q moved from %s to %s.", goal.Title, from, to))
}

// CommentAdded notifies the goal owner of a new comment and, for replies,
// the author of the parent comment.
func (n *Notifier) CommentAdded(ctx context.Context, goal store.Goal, actorID, actorName, parentAuthorID string) error {
	if parentAuthorID != "" && parentAuthorID != actorID {
		if err := n.send(ctx, goal, []string{parentAuthorID}, KindReply,
			"New reply to your comment",
			fmt.Sprintf("%s replied to your comment on %q.", actorName, goal.Title)); err != nil {
			return err
		}
	}
	owner := Recipients(actorID, goal.OwnerID)
	if len(owner) == 1 && owner[0] == parentAuthorID {
		return nil
	}
	return n.send(ctx, goal, owner, KindComment,
		"New comment on your goal",
		fmt.Sprintf("%s commented on %q.", actorName, goal.Title))
}

func (n *Notifier) send(ctx context.Context, goal store.Goal, recipients []string, kind, title, message string) error {
	if len(recipients) == 0 {
		return nil
	}
	items := make([]store.Notification, 0, len(recipients))
	for _, userID := range recipients {
		items = append(items, store.Notification{
			UserID:  userID,
			GoalID:  goal.ID,
			Kind:    kind,
			Title:   title,
			Message: message,
		})
	}
	if _, err := n.store.InsertNotifications(ctx, items); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}

	if n.mailer == nil || !n.mailer.IsConfigured() {
		return nil
	}
	users, err := n.store.GetUsersByIDs(ctx, recipients)
	if err != nil {
		n.log.Warn("load notification recipients", "goal_id", goal.ID, "error", err)
		return nil
	}
	data := email.NotificationData{
		Title:     title,
		Message:   message,
		GoalTitle: goal.Title,
		GoalURL:   n.goalURL(goal.ID),
	}
	pending := make([]store.User, 0, len(recipients))
	for _, userID := range recipients {
		user, ok := users[userID]
		if !ok || !user.IsActive || user.Email == "" {
			continue
		}
		pending = append(pending, user)
	}
	if len(pending) == 0 {
		return nil
	}

	n.mail.Add(1)
	go func() {
		defer n.mail.Done()
		for _, user := range pending {
			if err := n.mailer.SendNotificationEmail(user.Email, user.FullName, data); err != nil {
				n.log.Warn("send notification email", "user_id", user.ID, "kind", kind, "error", err)
			}
		}
	}()
	return nil
}

// Close blocks until queued notification e-mails have been handed to the mailer.
func (n *Notifier) Close() {
	n.mail.Wait()
}

func (n *Notifier) goalURL(goalID string) string {
	if n.publicURL == "" || goalID == "" {
		return ""
	}
	return n.publicURL + "/goals/" + goalID
}
