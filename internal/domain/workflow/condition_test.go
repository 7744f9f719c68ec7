package workflow

import (
	"errors"
	"regexp"
	"testing"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

func instWithFields(fields map[string]any) *entity.Instance {
	inst := entity.NewInstance("inst-1", "document", "doc", "draft")
	inst.Fields = fields
	return inst
}

func TestEqualsField(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		cond   EqualsField
		want   bool
	}{
		{
			name:   "string match",
			fields: map[string]any{"category": "standard"},
			cond:   EqualsField{Field: "category", Want: "standard"},
			want:   true,
		},
		{
			name:   "string mismatch",
			fields: map[string]any{"category": "urgent"},
			cond:   EqualsField{Field: "category", Want: "standard"},
			want:   false,
		},
		{
			name:   "numeric value compared as string",
			fields: map[string]any{"count": 3},
			cond:   EqualsField{Field: "count", Want: "3"},
			want:   true,
		},
		{
			name:   "missing field is false not error",
			fields: nil,
			cond:   EqualsField{Field: "category", Want: "standard"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(instWithFields(tt.fields), entity.User{UserID: "u1"})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGreaterThan(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		cond    GreaterThan
		want    bool
		wantErr bool
	}{
		{
			name:   "int above threshold",
			fields: map[string]any{"amount": 500},
			cond:   GreaterThan{Field: "amount", Threshold: 100},
			want:   true,
		},
		{
			name:   "float at threshold is not greater",
			fields: map[string]any{"amount": 100.0},
			cond:   GreaterThan{Field: "amount", Threshold: 100},
			want:   false,
		},
		{
			name:   "missing field is false",
			fields: nil,
			cond:   GreaterThan{Field: "amount", Threshold: 100},
			want:   false,
		},
		{
			name:    "non-numeric field is an error",
			fields:  map[string]any{"amount": "lots"},
			cond:    GreaterThan{Field: "amount", Threshold: 100},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(instWithFields(tt.fields), entity.User{UserID: "u1"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesField(t *testing.T) {
	cond := MatchesField{Field: "ref", Pattern: regexp.MustCompile(`^DOC-\d+$`)}

	ok, err := cond.Evaluate(instWithFields(map[string]any{"ref": "DOC-42"}), entity.User{UserID: "u1"})
	if err != nil || !ok {
		t.Errorf("Evaluate(DOC-42) = %v, %v, want match", ok, err)
	}

	ok, err = cond.Evaluate(instWithFields(map[string]any{"ref": "nope"}), entity.User{UserID: "u1"})
	if err != nil || ok {
		t.Errorf("Evaluate(nope) = %v, %v, want no match", ok, err)
	}

	ok, err = cond.Evaluate(instWithFields(nil), entity.User{UserID: "u1"})
	if err != nil || ok {
		t.Errorf("Evaluate(missing) = %v, %v, want false", ok, err)
	}
}

func TestRegisteredCheck(t *testing.T) {
	registry := NewCheckRegistry(map[string]CheckFunc{
		"is_owner": func(inst *entity.Instance, actor entity.Actor) (bool, error) {
			owner, _ := inst.Field("owner")
			return owner == actor.ID(), nil
		},
	})

	cond := RegisteredCheck{CheckName: "is_owner", Registry: registry}
	inst := instWithFields(map[string]any{"owner": "u1"})

	ok, err := cond.Evaluate(inst, entity.User{UserID: "u1"})
	if err != nil || !ok {
		t.Errorf("Evaluate(owner) = %v, %v, want true", ok, err)
	}
	ok, err = cond.Evaluate(inst, entity.User{UserID: "u2"})
	if err != nil || ok {
		t.Errorf("Evaluate(other) = %v, %v, want false", ok, err)
	}

	missing := RegisteredCheck{CheckName: "ghost", Registry: registry}
	if _, err := missing.Evaluate(inst, entity.User{UserID: "u1"}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Evaluate(unregistered) error = %v, want ErrConfiguration", err)
	}
}
