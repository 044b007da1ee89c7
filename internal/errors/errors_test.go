package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeTaskNotFound, "")
	if err.Message() != "task not found" {
		t.Fatalf("unexpected message: %q", err.Message())
	}
	if err.Code() != CodeTaskNotFound {
		t.Fatalf("unexpected code: %s", err.Code())
	}

	custom := New(CodeValidation, "custom message")
	if custom.Message() != "custom message" {
		t.Fatalf("unexpected message: %q", custom.Message())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeUpstreamFailure, cause, "remote call failed")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected cause in error string: %q", err.Error())
	}
	if !strings.Contains(err.Error(), string(CodeUpstreamFailure)) {
		t.Fatalf("expected code in error string: %q", err.Error())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeTaskNotFound, "missing")
	if !stdErrors.Is(err, New(CodeTaskNotFound, "")) {
		t.Fatal("expected same-code errors to match")
	}
	if stdErrors.Is(err, New(CodeValidation, "")) {
		t.Fatal("expected different-code errors not to match")
	}
}

func TestCodeOfAndMessageOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeValidation, "bad input"))
	if CodeOf(wrapped) != CodeValidation {
		t.Fatalf("unexpected code: %s", CodeOf(wrapped))
	}
	if MessageOf(wrapped) != "bad input" {
		t.Fatalf("unexpected message: %q", MessageOf(wrapped))
	}

	plain := fmt.Errorf("plain failure")
	if CodeOf(plain) != CodeUnknown {
		t.Fatalf("unexpected code for plain error: %s", CodeOf(plain))
	}
	if MessageOf(plain) != "plain failure" {
		t.Fatalf("unexpected message: %q", MessageOf(plain))
	}

	withCause := Wrap(CodeUpstreamFailure, fmt.Errorf("boom"), "remote call failed")
	if MessageOf(withCause) != "remote call failed: boom" {
		t.Fatalf("unexpected message: %q", MessageOf(withCause))
	}
}

func TestMetadata(t *testing.T) {
	err := New(CodeUpstreamFailure, "", WithMetadata("task_id", "t1"))
	meta := err.Metadata()
	if meta["task_id"] != "t1" {
		t.Fatalf("unexpected metadata: %v", meta)
	}

	// 返回的是副本。
	meta["task_id"] = "mutated"
	if err.Metadata()["task_id"] != "t1" {
		t.Fatal("Metadata should return a copy")
	}
}

func TestAlertAndSeverity(t *testing.T) {
	if !ShouldAlert(New(CodeStorageFailure, "")) {
		t.Fatal("storage failures should alert by default")
	}
	if ShouldAlert(New(CodeValidation, "")) {
		t.Fatal("validation failures should not alert")
	}
	if ShouldAlert(fmt.Errorf("plain")) {
		t.Fatal("plain errors should not alert")
	}

	muted := New(CodeStorageFailure, "", WithAlert(false))
	if muted.ShouldAlert() {
		t.Fatal("expected WithAlert(false) to mute the alert")
	}

	escalated := New(CodeValidation, "", WithSeverity(SeverityCritical))
	if escalated.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity: %s", escalated.Severity())
	}
	if SeverityOf(New(CodeTaskNotFound, "")) != SeverityInfo {
		t.Fatalf("unexpected severity: %s", SeverityOf(New(CodeTaskNotFound, "")))
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const codeCustom Code = "CUSTOM_TEST_CODE"
	Register(codeCustom, Attributes{Message: "custom", Severity: SeverityWarning, Alert: true})

	err := New(codeCustom, "")
	if err.Message() != "custom" {
		t.Fatalf("unexpected message: %q", err.Message())
	}
	if err.Severity() != SeverityWarning || !err.ShouldAlert() {
		t.Fatalf("unexpected attributes: severity=%s alert=%v", err.Severity(), err.ShouldAlert())
	}
}
