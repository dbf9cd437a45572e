package main

import (
	"github.com/douglaz/nostrweet/tools/nostrweet/cmd"
)

func main() {
	cmd.Execute()
}
