package telegram

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestTermAuth_ReadsAnswers(t *testing.T) {
	var prompts bytes.Buffer
	a := NewTermAuth(strings.NewReader("+79990001122\n12345\nhunter2"), &prompts)
	ctx := context.Background()

	phone, err := a.Phone(ctx)
	if err != nil || phone != "+79990001122" {
		t.Fatalf("phone = %q, %v", phone, err)
	}
	code, err := a.Code(ctx, nil)
	if err != nil || code != "12345" {
		t.Fatalf("code = %q, %v", code, err)
	}
	// Last line without a trailing newline.
	pass, err := a.Password(ctx)
	if err != nil || pass != "hunter2" {
		t.Fatalf("password = %q, %v", pass, err)
	}

	if !strings.Contains(prompts.String(), "Phone number") {
		t.Errorf("prompts = %q", prompts.String())
	}
}

func TestTermAuth_EOF(t *testing.T) {
	a := NewTermAuth(strings.NewReader(""), &bytes.Buffer{})
	if _, err := a.Phone(context.Background()); err == nil {
		t.Fatal("expected error on empty input")
	}
}

func TestTermAuth_RefusesSignUp(t *testing.T) {
	if _, err := (TermAuth{}).SignUp(context.Background()); err == nil {
		t.Fatal("expected sign up to be refused")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{APIHash: "h", SessionPath: "s.json"}); err == nil {
		t.Error("expected error without api id")
	}
	if _, err := New(Options{APIID: 1, APIHash: "h"}); err == nil {
		t.Error("expected error without session path")
	}
}
