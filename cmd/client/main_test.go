package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/dkeye/lanrelay/internal/client"
	"github.com/stretchr/testify/assert"
)

func TestShareCommandToggles(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	go func() { _, _ = io.Copy(io.Discard, remote) }()

	c := client.New(local, "alice")
	var out bytes.Buffer
	ctx := context.Background()

	readCommands(ctx, c, strings.NewReader("/share\n"), &out)
	assert.True(t, c.Sharing())

	readCommands(ctx, c, strings.NewReader("/share\n"), &out)
	assert.False(t, c.Sharing())

	readCommands(ctx, c, strings.NewReader("/share start\n/share bogus\n"), &out)
	assert.True(t, c.Sharing())
	assert.Contains(t, out.String(), "usage: /share")
	assert.NotContains(t, out.String(), "!")
}
