package main

import (
	"log/slog"
	"os"

	"github.com/fly-io/imageuploader/cmd/image-uploader/commands"
)

func main() {
	// Until the configured logger is installed by the root command
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
