package steps

import (
	"context"
	"fmt"
	"strings"

	"flowrunner.dev/flowrunner/flowdef"
)

func init() {
	Register("jira_names_merge", newJiraNamesMergeStep)
}

type jiraNamesMergeStep struct {
	Base
	dataKey string
	listKey string
}

func newJiraNamesMergeStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "jira_names_merge")
	if err != nil {
		return nil, err
	}
	dataKey, err := requireString(def, cfg, "data_key")
	if err != nil {
		return nil, err
	}
	return &jiraNamesMergeStep{
		Base:    Base{Def: def, FC: fc},
		dataKey: dataKey,
		listKey: optString(cfg, "list_key", "issues"),
	}, nil
}

func (s *jiraNamesMergeStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	raw, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("steps: jira_names_merge step %q: data_key %q is not an object", s.Def.Name, s.dataKey)
	}

	names, ok := data["names"].(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("steps: jira_names_merge step %q: data has no \"names\" — fetch issues with expand=names", s.Def.Name)
	}

	issuesRaw, _ := data[s.listKey].([]any)
	out := make([]any, 0, len(issuesRaw))
	for _, item := range issuesRaw {
		issue, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		out = append(out, mergeIssueFields(copyMap(issue), names))
	}

	return s.Finish(out)
}

// mergeIssueFields drops null/empty-list field values and renames
// customfield_* keys to normalize(names[key]) when a human name is known,
// leaving unmapped customfield_* keys untouched, matching the original
// algorithm field for field.
func mergeIssueFields(issue map[string]any, names map[string]any) map[string]any {
	fields, ok := issue["fields"].(map[string]any)
	if !ok {
		return issue
	}

	for key, value := range fields {
		if isEmptyFieldValue(value) {
			delete(fields, key)
			continue
		}
		if !strings.HasPrefix(key, "customfield_") {
			continue
		}
		if humanName, ok := names[key].(string); ok && humanName != "" {
			normalized := normalizeFieldName(humanName)
			fields[normalized] = value
			delete(fields, key)
		}
	}

	return issue
}

func isEmptyFieldValue(v any) bool {
	if v == nil {
		return true
	}
	if list, ok := v.([]any); ok {
		return len(list) == 0
	}
	return false
}

// normalizeFieldName lowercases and replaces '.', '-', ' ' with '_'.
func normalizeFieldName(name string) string {
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	if fields, ok := m["fields"].(map[string]any); ok {
		fcopy := make(map[string]any, len(fields))
		for k, v := range fields {
			fcopy[k] = v
		}
		out["fields"] = fcopy
	}
	return out
}
