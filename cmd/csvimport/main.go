package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/subimport/internal/cli"
)

func main() {
	// a missing .env is fine; unlike the server, real env vars win
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.Deps{}, os.Args[1:])
	stop()
	os.Exit(code)
}
