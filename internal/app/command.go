package app

import "strings"

// CommandKind is what a line of user input asks for.
type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdChat
	CmdNext
	CmdLeave
	CmdMic
	CmdCam
	CmdChatPanel
	CmdRecheck
	CmdDevices
	CmdHelp
	CmdUnknown
)

// Command is one parsed input line.
type Command struct {
	Kind CommandKind
	// Text is the chat text for CmdChat and the raw command for CmdUnknown.
	Text string
}

var commands = map[string]CommandKind{
	"/next":    CmdNext,
	"/skip":    CmdNext,
	"/leave":   CmdLeave,
	"/quit":    CmdLeave,
	"/exit":    CmdLeave,
	"/mic":     CmdMic,
	"/cam":     CmdCam,
	"/chat":    CmdChatPanel,
	"/recheck": CmdRecheck,
	"/devices": CmdDevices,
	"/help":    CmdHelp,
}

// ParseCommand interprets a line of input. Lines starting with a single "/"
// are commands; "//" escapes a chat message that starts with a slash.
func ParseCommand(line string) Command {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return Command{Kind: CmdNone}
	case strings.HasPrefix(text, "//"):
		return Command{Kind: CmdChat, Text: text[1:]}
	case strings.HasPrefix(text, "/"):
		name := strings.ToLower(strings.Fields(text)[0])
		if kind, ok := commands[name]; ok {
			return Command{Kind: kind}
		}
		return Command{Kind: CmdUnknown, Text: name}
	default:
		return Command{Kind: CmdChat, Text: text}
	}
}
