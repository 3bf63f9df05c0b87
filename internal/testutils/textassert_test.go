package testutils

import (
	"strings"
	"testing"
)

type mockTestingT struct {
	errorCalled  bool
	errorMessage string
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.errorCalled = true
	m.errorMessage = format
	_ = args
}

func TestTextAsserter_Assert_Success(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserter(mockT)

	ta.Assert("hello", "hello")

	if mockT.errorCalled {
		t.Errorf("expected no error for matching text, got: %s", mockT.errorMessage)
	}
}

func TestTextAsserter_Assert_Failure(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserter(mockT)

	ta.Assert("hello", "world")

	if !mockT.errorCalled {
		t.Error("expected Errorf to be called for mismatched text")
	}
	if !strings.Contains(mockT.errorMessage, "text assertion failed") {
		t.Errorf("expected error message to mention the failed assertion, got: %s", mockT.errorMessage)
	}
}

func TestTextAsserter_IgnoreTrailingWhitespace(t *testing.T) {
	t.Run("enabled matches despite trailing whitespace", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserter(mockT).WithOptions(WithIgnoreTrailingWhitespace(true))

		ta.Assert("hello  \nworld\t", "hello\nworld")

		if mockT.errorCalled {
			t.Errorf("expected no error when ignoring trailing whitespace, got: %s", mockT.errorMessage)
		}
	})

	t.Run("disabled still distinguishes trailing whitespace", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserter(mockT)

		ta.Assert("hello  \nworld\t", "hello\nworld")

		if !mockT.errorCalled {
			t.Error("expected an error when trailing whitespace is significant")
		}
	})
}
