package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dentalcare/clinic-gateway/internal/chatclient"
	"github.com/dentalcare/clinic-gateway/internal/conversation"
	"go.uber.org/zap"
)

// chatcli is a line REPL over the gateway's chat relay, mostly useful for
// poking at a running stack without a browser.
func main() {
	gateway := flag.String("gateway", "http://localhost:8080", "gateway base URL")
	email := flag.String("email", "", "signin email")
	password := flag.String("password", "", "signin password")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	client, err := chatclient.New(*gateway, logger)
	if err != nil {
		logger.Fatal("client init failed", zap.Error(err))
	}

	ctx := context.Background()

	if *email != "" {
		if err := client.Signin(ctx, *email, *password); err != nil {
			logger.Fatal("signin failed", zap.Error(err))
		}
	}

	if err := client.LoadHistory(ctx); err != nil {
		logger.Warn("history load failed", zap.Error(err))
	}
	printTranscript(client.Transcript().Messages())

	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "/quit" {
			return
		}
		if line != "" {
			if err := client.Send(ctx, line); err != nil {
				if errors.Is(err, conversation.ErrSendInFlight) {
					fmt.Println("(still waiting on the previous reply)")
				} else {
					fmt.Printf("(error: %v)\n", err)
				}
			} else {
				msgs := client.Transcript().Messages()
				if len(msgs) > 0 {
					last := msgs[len(msgs)-1]
					fmt.Printf("%s: %s\n", last.Role, last.Content)
				}
			}
		}
		fmt.Print("> ")
	}
}

func printTranscript(msgs []conversation.Message) {
	for _, m := range msgs {
		fmt.Printf("%s: %s\n", m.Role, m.Content)
	}
}
