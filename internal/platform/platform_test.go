package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinaryMatches(t *testing.T) {
	tests := []struct {
		argv []string
		want bool
	}{
		{[]string{"claude"}, true},
		{[]string{"/usr/local/bin/claude", "--resume"}, true},
		{[]string{"Claude"}, true},
		{[]string{"claude-code-acp"}, false},
		{[]string{"/opt/claude/node"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		p := Process{Cmdline: tt.argv}
		assert.Equal(t, tt.want, p.BinaryMatches("claude"), "argv=%v", tt.argv)
	}
}

func TestCommandLine(t *testing.T) {
	p := Process{Cmdline: []string{"node", "/x/claude-code-acp", "--stdio"}}
	assert.Equal(t, "node /x/claude-code-acp --stdio", p.CommandLine())
	assert.Equal(t, "node", p.Arg0())
}
