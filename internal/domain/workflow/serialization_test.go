package workflow

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

func testResolver() Resolver {
	return Resolver{
		Checks: NewCheckRegistry(map[string]CheckFunc{
			"always": func(*entity.Instance, entity.Actor) (bool, error) { return true, nil },
		}),
		Hooks: NewHookRegistry(
			[]BeforeTransitionHook{BeforeFunc{HookName: "audit", Fn: func(context.Context, HookContext) error { return nil }}},
			nil,
		),
		Validators: map[string]Validator{
			"has_owner": ValidatorFunc{ValidatorName: "has_owner", Fn: func(*entity.Instance, entity.Actor) error { return nil }},
		},
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	def, err := NewDefinition("doc", 2, []State{
		{Name: "draft", Initial: true, Description: "being authored"},
		{Name: "review", Timeout: 72 * time.Hour, ErrorState: "escalated", RequiredRoles: []string{"reviewer"}, Restricted: true},
		{Name: "approved", Final: true},
		{Name: "escalated"},
	}, []Transition{
		{
			Trigger:  "submit",
			Sources:  []string{"draft"},
			Dest:     "review",
			Priority: 5,
			Conditions: []Condition{
				EqualsField{Field: "category", Want: "standard"},
				GreaterThan{Field: "amount", Threshold: 100},
				MatchesField{Field: "ref", Pattern: regexp.MustCompile(`^DOC-\d+$`)},
			},
			Retry: &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: 30 * time.Second},
		},
		{
			Trigger:       "approve",
			Sources:       []string{"review"},
			Dest:          "approved",
			RequiredRoles: []string{"reviewer"},
			SyncDispatch:  true,
		},
	},
		WithErrorState("escalated"),
		WithMaxRetries(2),
		WithHistoryLimit(100),
		WithNotification(NotificationConfig{
			Channels:   []string{"flash"},
			Recipients: map[string][]string{"flash": {"reviewers"}},
		}),
	)
	require.NoError(t, err)

	doc := Export(def)
	got, err := Import(doc, testResolver())
	require.NoError(t, err)

	assert.Equal(t, def.Name(), got.Name())
	assert.Equal(t, def.Version(), got.Version())
	assert.Equal(t, def.InitialState(), got.InitialState())
	assert.Equal(t, def.ErrorState(), got.ErrorState())
	assert.Equal(t, def.MaxRetries(), got.MaxRetries())
	assert.Equal(t, def.HistoryLimit(), got.HistoryLimit())
	assert.Equal(t, def.Notification(), got.Notification())

	review, ok := got.GetState("review")
	require.True(t, ok)
	assert.Equal(t, 72*time.Hour, review.Timeout)
	assert.Equal(t, "escalated", review.ErrorState)
	assert.True(t, review.Restricted)
	assert.Equal(t, []string{"reviewer"}, review.RequiredRoles)

	transitions := got.Transitions()
	require.Len(t, transitions, 2)

	submit := transitions[0]
	assert.Equal(t, "submit", submit.Trigger)
	assert.Equal(t, 5, submit.Priority)
	require.Len(t, submit.Conditions, 3)
	require.NotNil(t, submit.Retry)
	assert.Equal(t, 3, submit.Retry.MaxAttempts)
	assert.Equal(t, time.Second, submit.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, submit.Retry.MaxDelay)

	approve := transitions[1]
	assert.True(t, approve.SyncDispatch)
	assert.Equal(t, []string{"reviewer"}, approve.RequiredRoles)
}

func TestImport_UnknownValidator(t *testing.T) {
	doc := Document{
		Name:    "doc",
		Version: 1,
		States: []StateDoc{
			{Name: "draft", Initial: true, Validators: []string{"ghost"}},
		},
	}
	_, err := Import(doc, testResolver())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestImport_UnknownHook(t *testing.T) {
	doc := Document{
		Name:    "doc",
		Version: 1,
		States: []StateDoc{
			{Name: "draft", Initial: true},
			{Name: "review"},
		},
		Transitions: []TransitionDoc{
			{Trigger: "submit", Sources: []string{"draft"}, Dest: "review", Before: []string{"ghost"}},
		},
	}
	_, err := Import(doc, testResolver())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestImport_BadTimeout(t *testing.T) {
	doc := Document{
		Name:    "doc",
		Version: 1,
		States: []StateDoc{
			{Name: "draft", Initial: true, Timeout: "three days"},
		},
	}
	_, err := Import(doc, testResolver())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadFile(t *testing.T) {
	content := `
name: doc
version: 1
states:
  - name: draft
    initial: true
  - name: review
  - name: approved
    final: true
transitions:
  - trigger: submit
    sources: [draft]
    dest: review
    conditions:
      - type: check
        name: always
  - trigger: approve
    sources: [review]
    dest: approved
`
	path := filepath.Join(t.TempDir(), "doc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	def, err := LoadFile(path, testResolver())
	require.NoError(t, err)
	assert.Equal(t, "doc", def.Name())
	assert.Equal(t, "draft", def.InitialState())
	assert.True(t, def.IsTerminal("approved"))
	require.Len(t, def.Transitions(), 2)
	require.Len(t, def.Transitions()[0].Conditions, 1)
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := LoadFile(path, testResolver())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "ghost.yaml"), testResolver())
	assert.Error(t, err)
}

func TestMarshalYAML_Stable(t *testing.T) {
	def, err := NewDefinition("doc", 1, []State{
		{Name: "draft", Initial: true},
		{Name: "done", Final: true},
	}, []Transition{
		{Trigger: "finish", Sources: []string{"draft"}, Dest: "done"},
	})
	require.NoError(t, err)

	first, err := MarshalYAML(def)
	require.NoError(t, err)
	second, err := MarshalYAML(def)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), "name: doc")
}
