package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tyemirov/boshpulse/internal/failure"
)

const (
	operationName      = "listDeployments"
	commandFailedText  = "command failed"
	diagnosticText     = "Director responded with 500"
	validationTemplate = "%s is required"
	parameterName      = "deployment"
)

func TestErrorMatchesSentinelKinds(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		sentinel  error
		expectHit bool
	}{
		{name: "timeout matches timeout", err: failure.New(failure.KindTimeout, operationName, "timed out"), sentinel: failure.Timeout, expectHit: true},
		{name: "timeout does not match parse", err: failure.New(failure.KindTimeout, operationName, "timed out"), sentinel: failure.Parse},
		{name: "wrapped parse matches parse", err: fmt.Errorf("outer: %w", failure.New(failure.KindParse, operationName, "bad json")), sentinel: failure.Parse, expectHit: true},
		{
			name:      "non zero exit tagged as connection matches connection",
			err:       &failure.Error{Kind: failure.KindNonZeroExit, Message: commandFailedText, Transient: failure.KindConnection},
			sentinel:  failure.Connection,
			expectHit: true,
		},
		{name: "plain error matches nothing", err: errors.New(diagnosticText), sentinel: failure.NonZeroExit},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			if actual := errors.Is(testCase.err, testCase.sentinel); actual != testCase.expectHit {
				t.Fatalf("expected errors.Is=%t, got %t", testCase.expectHit, actual)
			}
		})
	}
}

func TestErrorMessageCarriesDiagnostic(t *testing.T) {
	failureError := &failure.Error{Kind: failure.KindNonZeroExit, Operation: operationName, Message: commandFailedText, Diagnostic: diagnosticText}
	expected := operationName + ": " + commandFailedText + ": " + diagnosticText
	if failureError.Error() != expected {
		t.Fatalf("expected %q, got %q", expected, failureError.Error())
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	wrapped := failure.Wrap(failure.KindInterrupted, operationName, "interrupted", context.Canceled)
	if !errors.Is(wrapped, context.Canceled) {
		t.Fatalf("expected wrapped error to unwrap to context.Canceled")
	}
	kind, ok := failure.KindOf(fmt.Errorf("call: %w", wrapped))
	if !ok || kind != failure.KindInterrupted {
		t.Fatalf("expected interrupted kind, got %q (found=%t)", kind, ok)
	}
}

func TestValidationfFormatsMessage(t *testing.T) {
	validationError := failure.Validationf(operationName, validationTemplate, parameterName)
	if validationError.Kind != failure.KindValidation {
		t.Fatalf("expected validation kind, got %s", validationError.Kind)
	}
	if validationError.Message != "deployment is required" {
		t.Fatalf("unexpected message %q", validationError.Message)
	}
}

func TestTransientOfReportsTypedCategories(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedKind  failure.Kind
		expectedFound bool
	}{
		{name: "timeout", err: failure.New(failure.KindTimeout, "", "t"), expectedKind: failure.KindTimeout, expectedFound: true},
		{name: "spawn", err: failure.New(failure.KindSpawn, "", "s"), expectedKind: failure.KindSpawn, expectedFound: true},
		{name: "tagged exit", err: &failure.Error{Kind: failure.KindNonZeroExit, Transient: failure.KindConnection}, expectedKind: failure.KindConnection, expectedFound: true},
		{name: "plain exit", err: failure.New(failure.KindNonZeroExit, "", "x")},
		{name: "untyped", err: errors.New("x")},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			kind, found := failure.TransientOf(testCase.err)
			if found != testCase.expectedFound || kind != testCase.expectedKind {
				t.Fatalf("expected (%q,%t), got (%q,%t)", testCase.expectedKind, testCase.expectedFound, kind, found)
			}
		})
	}
}
