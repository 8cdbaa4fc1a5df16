package services

import (
	"strings"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
)

// ValidatePoll evaluates the template-driven save rules against a poll and
// its prospective option names. Violations are collected, never
// short-circuited, so callers can surface every problem at once. A nil return
// means the save may proceed.
func ValidatePoll(
	poll entities.Poll,
	optionNames []string,
	template templates.Template,
	now time.Time,
) domainerrors.ValidationErrors {
	var violations domainerrors.ValidationErrors

	if strings.TrimSpace(poll.Title) == "" {
		violations = violations.Add("title", "can't be blank")
	}

	current := make(map[string]bool, len(optionNames))
	for _, name := range optionNames {
		current[name] = true
	}
	original := make(map[string]bool, len(template.DefaultOptions))
	for _, name := range template.DefaultOptions {
		original[name] = true
	}

	if !template.CanAddOptions {
		for _, name := range optionNames {
			if !original[name] {
				violations = violations.Add("poll_options", "cannot add options")
				break
			}
		}
	}
	if !template.CanRemoveOptions {
		for _, name := range template.DefaultOptions {
			if !current[name] {
				violations = violations.Add("poll_options", "cannot remove options")
				break
			}
		}
	}
	if template.MustHaveOptions && len(optionNames) == 0 {
		violations = violations.Add("poll_options", "must have options")
	}

	for _, field := range template.RequiredCustomFields {
		if strings.TrimSpace(poll.CustomField(field)) == "" {
			violations = violations.Add(field, "is required")
		}
	}

	if poll.Active() && poll.ClosingAt != nil && !poll.ClosingAt.After(now) {
		violations = violations.Add("closing_at", "must close in future")
	}

	if len(violations) == 0 {
		return nil
	}
	return violations
}

// OptionDiff is the declarative option-set mutation: additions are appended
// after the existing maximum priority, removals are staged and applied only
// on successful save.
type OptionDiff struct {
	Additions []entities.PollOption
	Removals  []string
	Desired   []string
}

// DiffOptions computes the set mutation turning existing options into the
// desired ordered name sequence.
func DiffOptions(pollID string, existing []entities.PollOption, desired []string) OptionDiff {
	present := make(map[string]bool, len(existing))
	for _, option := range existing {
		present[option.Name] = true
	}
	wanted := make(map[string]bool, len(desired))
	for _, name := range desired {
		wanted[name] = true
	}

	diff := OptionDiff{Desired: desired}
	next := 0
	for _, option := range existing {
		if option.Priority >= next {
			next = option.Priority + 1
		}
	}
	for _, name := range desired {
		if present[name] {
			continue
		}
		present[name] = true
		diff.Additions = append(diff.Additions, entities.PollOption{
			PollID:   pollID,
			Name:     name,
			Priority: next,
		})
		next++
	}
	for _, option := range existing {
		if !wanted[option.Name] {
			diff.Removals = append(diff.Removals, option.Name)
		}
	}
	return diff
}
