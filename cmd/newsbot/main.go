package main

import (
	"os"

	"github.com/koteev-m/news-bot-sub003/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
