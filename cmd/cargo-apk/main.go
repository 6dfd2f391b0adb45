package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/frantjc/cargo-apk/command"
	xos "github.com/frantjc/x/os"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

func main() {
	var (
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		cmd       = command.NewCargoAPK()
		err       error
	)

	cmd.SetArgs(command.TrimCargoSubcommand(os.Args[1:]))

	if err = cmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		command.PrintError(cmd, err)
	}

	stop()
	xos.ExitFromError(err)
}
