// Package main serves as the entry point for the receiptflow application.
// It provides a production-grade pipeline for extracting structured data
// from receipt images, with durable queueing, batch sessions, and
// per-provider rate limiting.
package main

import "receiptflow/cmd"

func main() {
	cmd.Execute()
}
