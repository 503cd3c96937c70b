// Command flowpilot-chat is a terminal client for the copilot endpoint. It
// streams assistant replies to stdout and applies suggested workflows
// through the HTTP API, mirroring what the web panel does in the browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"flowpilot/internal/client"
	"flowpilot/internal/models"
	"flowpilot/internal/panel"
)

type stdoutNotifier struct{}

func (stdoutNotifier) Working(message string) { fmt.Printf("\n[%s]\n", message) }
func (stdoutNotifier) ClearWorking()          {}
func (stdoutNotifier) Success(message string) { fmt.Printf("\n[%s]\n", message) }
func (stdoutNotifier) Error(message string)   { fmt.Printf("\n[%s]\n", message) }

// echoStreamer tees text chunks to stdout before handing them to the panel.
type echoStreamer struct {
	inner panel.Streamer
}

func (e echoStreamer) Stream(ctx context.Context, message string, history []models.ChatMessage, cb client.Callbacks) error {
	onText := cb.OnText
	cb.OnText = func(chunk string) {
		fmt.Print(chunk)
		if onText != nil {
			onText(chunk)
		}
	}
	return e.inner.Stream(ctx, message, history, cb)
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8090", "flowpilot server address")
	userID := flag.Int64("user", 0, "user id")
	token := flag.String("token", "", "auth token")
	flag.Parse()

	if *userID <= 0 || *token == "" {
		log.Fatal("both -user and -token are required")
	}

	consumer := client.NewConsumer(*server, *userID, *token)
	workflows := client.NewWorkflowClient(*server, *userID, *token)
	p := panel.New(echoStreamer{inner: consumer}, workflows, stdoutNotifier{})

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("flowpilot chat (ctrl-d to exit)")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if err := p.Submit(context.Background(), question); err != nil {
			log.Printf("submit: %v", err)
			continue
		}
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input: %v", err)
	}
}
