package llm

import (
	"errors"
	"testing"
)

func TestCloneHistoryIsIndependent(t *testing.T) {
	orig := []Turn{
		{Role: RoleSystem, Text: "sys"},
		{Role: RoleUser, Text: "hi", Images: []string{"aaa"}},
	}
	cp := CloneHistory(orig)
	cp[0].Text = "changed"
	cp[1].Images[0] = "bbb"
	cp = append(cp, Turn{Role: RoleAssistant, Text: "extra"})

	if orig[0].Text != "sys" {
		t.Fatalf("clone mutated original text: %q", orig[0].Text)
	}
	if orig[1].Images[0] != "aaa" {
		t.Fatalf("clone shares image slice: %q", orig[1].Images[0])
	}
	if len(orig) != 2 {
		t.Fatalf("original length changed: %d", len(orig))
	}
}

func TestCloneHistoryNil(t *testing.T) {
	if got := CloneHistory(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestErrFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{401, ErrUnauthorized},
		{403, ErrUnauthorized},
		{429, ErrRateLimited},
		{404, ErrModelUnavailable},
		{501, ErrModelUnavailable},
		{408, ErrTimeout},
		{504, ErrTimeout},
		{500, ErrModelUnavailable},
		{503, ErrModelUnavailable},
		{400, ErrMalformedResponse},
	}
	for _, tc := range cases {
		err := ErrFromStatus("openai", tc.status, "boom")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestWrapTransportErrNil(t *testing.T) {
	if err := WrapTransportErr("openai", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
