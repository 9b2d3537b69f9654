package main

import (
	"watchdog/cmd/handlers"
	"watchdog/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
