package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrompterRefusesPipedInputUnlessForced(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	p := newTerminalPrompter(strings.NewReader("1234\n"), &out, false)
	_, err := p.PromptCode(context.Background(), "+79990001122", 1)
	require.ErrorIs(t, err, errNoTerminal)
	require.Empty(t, out.String())
}

func TestPrompterReadsLines(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	var out bytes.Buffer

	p := newTerminalPrompter(strings.NewReader(" 1111 \n2222"), &out, true)

	code, err := p.PromptCode(context.Background(), "+79990001122", 1)
	req.NoError(err)
	req.Equal("1111", code)

	code, err = p.PromptCode(context.Background(), "+79990001122", 2)
	req.NoError(err)
	req.Equal("2222", code)
	req.Contains(out.String(), "Wrong code")

	_, err = p.PromptCode(context.Background(), "+79990001122", 3)
	req.Error(err)
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"run", "login", "logout"}, names)
	require.NotNil(t, root.PersistentFlags().Lookup("phone"))
	require.NotNil(t, root.PersistentFlags().Lookup("force"))
}
