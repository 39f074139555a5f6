package domain

import "testing"

func TestPickTemplateRotation(t *testing.T) {
	t.Parallel()
	messages := []string{"uno", "dos", "tres"}

	day := 20250115
	first := PickTemplate(messages, day)
	if first == "" {
		t.Fatal("expected a message")
	}
	// Rotation period equals the array length.
	if got := PickTemplate(messages, day+len(messages)); got != first {
		t.Fatalf("rotation broken: %q vs %q", got, first)
	}
	// Consecutive days walk the array.
	if got := PickTemplate(messages, day+1); got == first {
		t.Fatalf("expected a different message on the next day, got %q twice", got)
	}
}

func TestPickTemplateStableWithinDay(t *testing.T) {
	t.Parallel()
	messages := []string{"a", "b"}
	if PickTemplate(messages, 20250115) != PickTemplate(messages, 20250115) {
		t.Fatal("same day must yield the same message")
	}
}

func TestPickTemplateEmptyAndBlank(t *testing.T) {
	t.Parallel()
	if got := PickTemplate(nil, 20250115); got != "" {
		t.Fatalf("nil set: got %q", got)
	}
	if got := PickTemplate([]string{}, 20250115); got != "" {
		t.Fatalf("empty set: got %q", got)
	}
	// A blank entry is present but unusable for its day.
	messages := []string{"  ", "ok"}
	if got := PickTemplate(messages, 20250116); got != "" {
		t.Fatalf("blank entry: got %q", got)
	}
	if got := PickTemplate(messages, 20250115); got != "ok" {
		t.Fatalf("non-blank entry: got %q", got)
	}
}
