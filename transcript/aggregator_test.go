package transcript

import "testing"

func TestFragmentsConcatenate(t *testing.T) {
	a := New()
	a.AppendInput("He")
	a.AppendInput("llo")
	a.AppendOutput("こん")
	a.AppendOutput("にちは")

	turn := a.Complete()
	if turn.Input != "Hello" {
		t.Errorf("Input = %q, want %q", turn.Input, "Hello")
	}
	if turn.Output != "こんにちは" {
		t.Errorf("Output = %q, want %q", turn.Output, "こんにちは")
	}
}

func TestCompleteTrims(t *testing.T) {
	a := New()
	a.AppendInput("  Hola ")
	a.AppendInput(" que tal \n")
	a.AppendOutput("\nお元気ですか？ ")

	turn := a.Complete()
	if turn.Input != "Hola  que tal" {
		t.Errorf("Input = %q, want %q", turn.Input, "Hola  que tal")
	}
	if turn.Output != "お元気ですか？" {
		t.Errorf("Output = %q, want %q", turn.Output, "お元気ですか？")
	}
}

func TestCompleteClears(t *testing.T) {
	a := New()
	a.AppendInput("first turn")
	a.AppendOutput("answer")
	a.Complete()

	turn := a.Complete()
	if turn.Input != "" || turn.Output != "" {
		t.Errorf("second Complete() = %+v, want empty turn", turn)
	}
}

func TestWhitespaceOnlyBecomesEmpty(t *testing.T) {
	a := New()
	a.AppendInput("   \n\t ")

	turn := a.Complete()
	if turn.Input != "" {
		t.Errorf("Input = %q, want empty", turn.Input)
	}
}

func TestPartialAccessors(t *testing.T) {
	a := New()
	a.AppendInput("par")
	a.AppendInput("tial")

	if got := a.Input(); got != "partial" {
		t.Errorf("Input() = %q, want %q", got, "partial")
	}
	if got := a.Output(); got != "" {
		t.Errorf("Output() = %q, want empty", got)
	}
}

func TestReset(t *testing.T) {
	a := New()
	a.AppendInput("user")
	a.AppendOutput("model")
	a.Reset()

	turn := a.Complete()
	if turn.Input != "" || turn.Output != "" {
		t.Errorf("Complete() after Reset = %+v, want empty turn", turn)
	}
}
