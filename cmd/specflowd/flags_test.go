package main

import (
	"reflect"
	"testing"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    bool
		wantFlags  flagSet
		wantRest   []string
	}{
		{
			name:      "single value flag",
			args:      []string{"--project", "proj-1"},
			wantFlags: flagSet{"project": "proj-1"},
		},
		{
			name:      "boolean flag needs no value",
			args:      []string{"--project", "proj-1", "--auto-merge"},
			wantFlags: flagSet{"project": "proj-1", "auto-merge": "true"},
		},
		{
			name:    "dangling value flag",
			args:    []string{"--project"},
			wantErr: true,
		},
		{
			name:      "repeated flag accumulates",
			args:      []string{"--qa", "q1=REST", "--qa", "q2=yes"},
			wantFlags: flagSet{"qa": "q1=REST" + multiSep + "q2=yes"},
		},
		{
			name:     "positional arguments pass through",
			args:     []string{"--project", "proj-1", "extra"},
			wantFlags: flagSet{"project": "proj-1"},
			wantRest: []string{"extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, rest, err := parseFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(flags, tt.wantFlags) {
				t.Errorf("flags = %#v, want %#v", flags, tt.wantFlags)
			}
			if !reflect.DeepEqual(rest, tt.wantRest) {
				t.Errorf("rest = %#v, want %#v", rest, tt.wantRest)
			}
		})
	}
}

func TestFlagSetMulti(t *testing.T) {
	flags := flagSet{"qa": "q1=REST" + multiSep + "q2=yes"}
	got := flags.multi("qa")
	want := []string{"q1=REST", "q2=yes"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("multi(qa) = %#v, want %#v", got, want)
	}
	if got := flags.multi("missing"); got != nil {
		t.Errorf("multi(missing) = %#v, want nil", got)
	}
}

func TestParseAnswers(t *testing.T) {
	answers, err := parseAnswers([]string{"q1=REST", "q2=gRPC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"q1": "REST", "q2": "gRPC"}
	if !reflect.DeepEqual(answers, want) {
		t.Errorf("answers = %#v, want %#v", answers, want)
	}

	if _, err := parseAnswers(nil); err == nil {
		t.Fatal("expected an error for no answers")
	}
	if _, err := parseAnswers([]string{"malformed"}); err == nil {
		t.Fatal("expected an error for a malformed pair")
	}
}

func TestAtoiOr(t *testing.T) {
	if got := atoiOr("", 15); got != 15 {
		t.Errorf("atoiOr empty = %d, want 15", got)
	}
	if got := atoiOr("32", 15); got != 32 {
		t.Errorf("atoiOr(32) = %d, want 32", got)
	}
	if got := atoiOr("not-a-number", 15); got != 15 {
		t.Errorf("atoiOr(garbage) = %d, want fallback 15", got)
	}
}
