package protocol

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrEmptyLine is returned for blank input; callers normally ignore it.
	ErrEmptyLine = errors.New("empty line")
	// ErrNotACommand is returned for input that does not start with '/'.
	ErrNotACommand = errors.New("input is not a command")
	// ErrUnknownCommand is returned for a '/name' the server does not know.
	ErrUnknownCommand = errors.New("unknown command")
)

// UnknownCommandError names a '/command' the server does not know. It
// matches ErrUnknownCommand with errors.Is.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return "unknown command: " + e.Name
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// UsageError reports a known command invoked with the wrong arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// Command is one parsed client request. The set of implementations is closed;
// consumers switch over the concrete types.
type Command interface {
	Name() string
	command()
}

// PrivateMessage sends Text to a single user.
type PrivateMessage struct {
	To   string
	Text string
}

// Broadcast sends Text to every other online user.
type Broadcast struct {
	Text string
}

// CreateGroup creates a group and joins its creator to it.
type CreateGroup struct {
	Group string
}

// JoinGroup adds the sender to an existing group.
type JoinGroup struct {
	Group string
}

// LeaveGroup removes the sender from a group.
type LeaveGroup struct {
	Group string
}

// GroupMessage sends Text to every other member of Group.
type GroupMessage struct {
	Group string
	Text  string
}

// ListUsers asks for the online user list.
type ListUsers struct{}

// ListGroups asks for every group and its members.
type ListGroups struct{}

// Help asks for the command summary.
type Help struct{}

// Quit ends the session.
type Quit struct{}

func (PrivateMessage) Name() string { return "/msg" }
func (Broadcast) Name() string      { return "/broadcast" }
func (CreateGroup) Name() string    { return "/create_group" }
func (JoinGroup) Name() string      { return "/join_group" }
func (LeaveGroup) Name() string     { return "/leave_group" }
func (GroupMessage) Name() string   { return "/group_msg" }
func (ListUsers) Name() string      { return "/users" }
func (ListGroups) Name() string     { return "/groups_users" }
func (Help) Name() string           { return "/help" }
func (Quit) Name() string           { return "/quit" }

func (PrivateMessage) command() {}
func (Broadcast) command()      {}
func (CreateGroup) command()    {}
func (JoinGroup) command()      {}
func (LeaveGroup) command()     {}
func (GroupMessage) command()   {}
func (ListUsers) command()      {}
func (ListGroups) command()     {}
func (Help) command()           {}
func (Quit) command()           {}

type commandInfo struct {
	name  string
	usage string
	help  string
}

var commandTable = []commandInfo{
	{"/msg", "/msg <username> <message>", "Send private message to user"},
	{"/broadcast", "/broadcast <message>", "Broadcast message to all users"},
	{"/create_group", "/create_group <group_name>", "Create a new group"},
	{"/join_group", "/join_group <group_name>", "Join an existing group"},
	{"/group_msg", "/group_msg <group_name> <message>", "Send message to group"},
	{"/leave_group", "/leave_group <group_name>", "Leave a group"},
	{"/users", "/users", "List all online users"},
	{"/groups_users", "/groups_users", "List all groups and their members"},
	{"/help", "/help", "Show this list"},
	{"/quit", "/quit", "Disconnect from server (alias /exit)"},
}

func usage(name string) *UsageError {
	for _, info := range commandTable {
		if info.name == name {
			return &UsageError{Usage: info.usage}
		}
	}
	return &UsageError{Usage: name}
}

// HelpLines returns the command summary, one entry per line.
func HelpLines() []string {
	lines := make([]string, 0, len(commandTable)+1)
	lines = append(lines, "Available commands:")
	for _, info := range commandTable {
		lines = append(lines, info.usage+" - "+info.help)
	}
	return lines
}

// Parse turns one input line into a Command. Command names are matched
// case-insensitively; message text keeps its spacing.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}
	if !strings.HasPrefix(line, "/") {
		return nil, ErrNotACommand
	}

	name, rest := nextField(line)
	name = strings.ToLower(name)

	switch name {
	case "/msg":
		to, text := nextField(rest)
		if to == "" || text == "" {
			return nil, usage(name)
		}
		return PrivateMessage{To: to, Text: text}, nil
	case "/broadcast":
		if rest == "" {
			return nil, usage(name)
		}
		return Broadcast{Text: rest}, nil
	case "/create_group", "/join_group", "/leave_group":
		group, extra := nextField(rest)
		if group == "" || extra != "" {
			return nil, usage(name)
		}
		switch name {
		case "/create_group":
			return CreateGroup{Group: group}, nil
		case "/join_group":
			return JoinGroup{Group: group}, nil
		default:
			return LeaveGroup{Group: group}, nil
		}
	case "/group_msg":
		group, text := nextField(rest)
		if group == "" || text == "" {
			return nil, usage(name)
		}
		return GroupMessage{Group: group, Text: text}, nil
	case "/users":
		return ListUsers{}, nil
	case "/groups_users":
		return ListGroups{}, nil
	case "/help":
		return Help{}, nil
	case "/quit", "/exit":
		return Quit{}, nil
	default:
		return nil, &UnknownCommandError{Name: name}
	}
}

// nextField splits s into its first whitespace-delimited token and the
// trimmed remainder.
func nextField(s string) (string, string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
