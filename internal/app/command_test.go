package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"", Command{Kind: CmdNone}},
		{"   ", Command{Kind: CmdNone}},
		{"hello there", Command{Kind: CmdChat, Text: "hello there"}},
		{"  padded  ", Command{Kind: CmdChat, Text: "padded"}},
		{"//not a command", Command{Kind: CmdChat, Text: "/not a command"}},
		{"/next", Command{Kind: CmdNext}},
		{"/skip", Command{Kind: CmdNext}},
		{"/NEXT", Command{Kind: CmdNext}},
		{"/leave", Command{Kind: CmdLeave}},
		{"/quit", Command{Kind: CmdLeave}},
		{"/mic", Command{Kind: CmdMic}},
		{"/cam", Command{Kind: CmdCam}},
		{"/chat", Command{Kind: CmdChatPanel}},
		{"/recheck", Command{Kind: CmdRecheck}},
		{"/devices", Command{Kind: CmdDevices}},
		{"/help me", Command{Kind: CmdHelp}},
		{"/dance", Command{Kind: CmdUnknown, Text: "/dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.line))
		})
	}
}
