package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  []string
	}{
		{"quit", "quit", nil},
		{"  Mute   12h ", "mute", []string{"12h"}},
		{"login alice s3cr3t", "login", []string{"alice", "s3cr3t"}},
		{"", "", nil},
		{"   ", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd := ParseCommand(tt.input)
			if cmd.Name != tt.name {
				t.Errorf("Name = %q, want %q", cmd.Name, tt.name)
			}
			if len(cmd.Args) != len(tt.args) {
				t.Fatalf("Args = %q, want %q", cmd.Args, tt.args)
			}
			for i := range tt.args {
				if cmd.Arg(i) != tt.args[i] {
					t.Errorf("Arg(%d) = %q, want %q", i, cmd.Arg(i), tt.args[i])
				}
			}
		})
	}
}

func TestArgOutOfRange(t *testing.T) {
	cmd := ParseCommand("login alice")
	if cmd.Arg(1) != "" || cmd.Arg(5) != "" {
		t.Error("missing args should be empty")
	}
	// Args keep their case; only the name is folded.
	if ParseCommand("LOGIN Alice").Arg(0) != "Alice" {
		t.Error("arg case changed")
	}
}
