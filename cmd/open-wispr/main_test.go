package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HeroTools/open-wispr/internal/cli"
)

func TestShouldPrintUsageHint(t *testing.T) {
	t.Parallel()

	require.True(t, shouldPrintUsageHint(errors.New("unknown command \"bad\" for \"open-wispr\"")))
	require.True(t, shouldPrintUsageHint(errors.New("unknown flag: --oops")))
	require.True(t, shouldPrintUsageHint(errors.New("accepts 1 arg(s), received 0")))
	require.False(t, shouldPrintUsageHint(errors.New("download model \"base\": context deadline exceeded")))
	require.False(t, shouldPrintUsageHint(nil))
}

func TestHelpHintTarget(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	require.Equal(t, "open-wispr", helpHintTarget(root, []string{"--badflag"}))
	require.Equal(t, "open-wispr", helpHintTarget(root, []string{"badcmd"}))
	require.Equal(t, "open-wispr setup", helpHintTarget(root, []string{"setup"}))
	require.Equal(t, "open-wispr models delete", helpHintTarget(root, []string{"models", "delete"}))
}
