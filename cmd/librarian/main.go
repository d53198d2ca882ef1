package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hitoshi/librarian/internal/app"
)

func main() {
	if err := app.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
