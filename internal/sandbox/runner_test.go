package sandbox

import "testing"

func TestConfigPageCap(t *testing.T) {
	cases := []struct {
		mb   uint32
		want uint32
	}{
		{1, 16},
		{16, 256},
		{512, 8192},
		{0, 1},
	}
	for _, c := range cases {
		cfg := Config{MemoryLimitMB: c.mb}
		if got := cfg.PageCap(); got != c.want {
			t.Errorf("PageCap(%d MB) = %d, want %d", c.mb, got, c.want)
		}
	}
}

func TestTerminationSuccess(t *testing.T) {
	if !(Termination{Kind: TerminationExit, ExitCode: 0}).Success() {
		t.Fatalf("Exit(0) should be success")
	}
	if (Termination{Kind: TerminationExit, ExitCode: 1}).Success() {
		t.Fatalf("Exit(1) should not be success")
	}
	if (Termination{Kind: TerminationCostExhausted}).Success() {
		t.Fatalf("CostExhausted should not be success")
	}
}

func TestTerminationMessage(t *testing.T) {
	msg := Termination{Kind: TerminationTrap, Reason: "integer divide by zero"}.Message()
	if msg == "" {
		t.Fatalf("expected non-empty message")
	}
	if got := (Termination{Kind: TerminationCostExhausted}).Message(); got == "" {
		t.Fatalf("expected non-empty cost-exhausted message")
	}
}

func TestIsMemoryTrapHeuristic(t *testing.T) {
	if !isMemoryTrap(fakeErr{"out of bounds memory access: memory limit exceeded"}) {
		t.Fatalf("expected memory-limit phrasing to be recognized")
	}
	if isMemoryTrap(fakeErr{"integer divide by zero"}) {
		t.Fatalf("unrelated trap must not be classified as a memory trap")
	}
	if isMemoryTrap(nil) {
		t.Fatalf("nil error is not a memory trap")
	}
}

type fakeErr struct{ msg string }

func (f fakeErr) Error() string { return f.msg }
