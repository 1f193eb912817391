package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rmaffei/crmlink/internal/client"
	"github.com/rmaffei/crmlink/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := client.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "open":
		requireArgs(args, 2, "usage: crmlinkctl open <conversation-id>")
		cmdOpen(ctx, c, args[1], *jsonFlag)
	case "messages":
		requireArgs(args, 2, "usage: crmlinkctl messages <conversation-id>")
		cmdMessages(ctx, c, args[1], *jsonFlag)
	case "send":
		requireArgs(args, 3, "usage: crmlinkctl send <conversation-id> <text>")
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "))
	case "suggest":
		requireArgs(args, 2, "usage: crmlinkctl suggest <conversation-id>")
		cmdSuggest(ctx, c, args[1], *jsonFlag)
	case "logout":
		cmdLogout(ctx, c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmlinkctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                  Show connection status")
	fmt.Fprintln(os.Stderr, "  conversations           List cached conversations")
	fmt.Fprintln(os.Stderr, "  open <id>               Open a conversation and subscribe to it")
	fmt.Fprintln(os.Stderr, "  messages <id>           Show messages of a conversation")
	fmt.Fprintln(os.Stderr, "  send <id> <text>        Send a message")
	fmt.Fprintln(os.Stderr, "  suggest <id>            Generate reply suggestions")
	fmt.Fprintln(os.Stderr, "  logout                  Disconnect and clear the session")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	exitOn(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:  %s\n", resp.Session)
	fmt.Printf("State:    %s\n", resp.State)
	fmt.Printf("Uptime:   %dms\n", resp.UptimeMS)
	if resp.ReconnectAttempts > 0 {
		fmt.Printf("Attempts: %d\n", resp.ReconnectAttempts)
	}
	if resp.LastError != "" {
		fmt.Printf("Error:    %s\n", resp.LastError)
	}
}

func cmdConversations(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Conversations(ctx)
	exitOn(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Error)
	}
	for _, conv := range resp.Items {
		name := conv.ContactID
		if conv.Contact != nil && conv.Contact.Name != "" {
			name = conv.Contact.Name
		}
		fmt.Printf("%s  %-8s %-24s %s\n", conv.ID, conv.Status, name, conv.LastMessageAt.Format(time.RFC3339))
	}
	fmt.Printf("%d of %d conversations\n", len(resp.Items), resp.Total)
}

func cmdOpen(ctx context.Context, c *client.Client, id string, jsonOut bool) {
	resp, err := c.OpenConversation(ctx, id)
	exitOn(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Error)
	}
	if resp.Conversation != nil {
		fmt.Printf("Opened %s (%s), %d messages\n", resp.Conversation.ID, resp.Conversation.Status, len(resp.Messages))
	}
}

func cmdMessages(ctx context.Context, c *client.Client, id string, jsonOut bool) {
	resp, err := c.Messages(ctx, id)
	exitOn(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Error)
	}
	for _, msg := range resp.Messages {
		from := msg.FromUserID
		if from == "" {
			from = "contact"
		}
		text := msg.Text
		if text == "" && msg.MediaURL != "" {
			text = "[media] " + msg.MediaURL
		}
		fmt.Printf("%s  %-12s %s\n", msg.CreatedAt.Format("15:04:05"), from, text)
	}
}

func cmdSend(ctx context.Context, c *client.Client, id, text string) {
	resp, err := c.Send(ctx, id, text)
	exitOn(err)
	fmt.Printf("queued %s\n", resp.ClientMsgID)
}

func cmdSuggest(ctx context.Context, c *client.Client, id string, jsonOut bool) {
	resp, err := c.GenerateSuggestions(ctx, id)
	exitOn(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Error)
	}
	for i, sug := range resp.Suggestions {
		fmt.Printf("%d. %s\n", i+1, sug.Text)
	}
}

func cmdLogout(ctx context.Context, c *client.Client) {
	exitOn(c.Logout(ctx))
	fmt.Println("logged out")
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
