// Tool gokr-rsync is an rsync-compatible client, server and daemon.
package main

import (
	"context"
	"log"
	"os"

	"github.com/oferchen/rsync-sub004/internal/maincmd"
)

func main() {
	if _, err := maincmd.Main(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		log.Fatal(err)
	}
}
