package main

import (
	"os"

	"github.com/DevEngageLab/mtpush-sdk/cmd/mtma/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
