package tui

import "strings"

// commandNames feeds prompt completion; aliases are left out.
var commandNames = []string{
	"events", "help", "login", "logout", "mute", "quit", "read", "retry", "rooms", "unmute",
}

// Command represents a parsed command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// Arg returns the i-th argument, or "" if absent.
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}
