// Command pushlint checks instance ids and interest names passed to the push
// notifications SDK.
//
//	go run github.com/tinywideclouds/go-pushnotifications/cmd/pushlint ./...
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/tinywideclouds/go-pushnotifications/internal/lint"
)

func main() {
	singlechecker.Main(lint.Analyzer)
}
