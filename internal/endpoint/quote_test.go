package endpoint

import "testing"

func TestShellQuote_PlainArgumentsUnquoted(t *testing.T) {
	got := shellQuote([]string{"btrfs", "send", "/mnt/snap"})
	want := "btrfs send /mnt/snap"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestShellQuote_EscapesSpecialCharacters(t *testing.T) {
	got := shellQuote([]string{"echo", "hello world"})
	want := "echo 'hello world'"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestShellQuote_EscapesEmbeddedSingleQuote(t *testing.T) {
	got := quoteOne("it's")
	want := `'it'\''s'`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestShellQuote_EmptyArgument(t *testing.T) {
	if got := quoteOne(""); got != "''" {
		t.Fatalf("got %q, want ''", got)
	}
}
