package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/john/slackignore/internal/config"
	"github.com/john/slackignore/internal/roster"
	"github.com/john/slackignore/internal/rules"
	"github.com/john/slackignore/internal/slackapi"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Slack.Token == "" || cfg.Slack.Cookie == "" {
		fmt.Println("Usage: list-conversations [config.yaml]")
		fmt.Println("\nSLACK_TOKEN and SLACK_COOKIE must be set in the config file or environment.")
		os.Exit(1)
	}

	client, err := slackapi.New(slackapi.Config{
		Token:    cfg.Slack.Token,
		Cookie:   cfg.Slack.Cookie,
		APIURL:   cfg.Slack.APIURL,
		ProxyURL: cfg.Slack.ProxyURL,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conversations, err := roster.Collect(ctx, client.ListConversations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list conversations: %v\n", err)
		os.Exit(1)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].Name < conversations[j].Name
	})

	fmt.Printf("Found %d conversation(s):\n", len(conversations))
	fmt.Println("---")
	for _, c := range conversations {
		fmt.Printf("%s: %s\n", c.ID, c.Name)
	}
	fmt.Println()

	if len(conversations) == 0 {
		return
	}

	// One rule per conversation; keep the ones to ignore.
	snippet := make([]rules.Spec, 0, len(conversations))
	for _, c := range conversations {
		snippet = append(snippet, rules.Spec{ChannelName: regexp.QuoteMeta(c.Name)})
	}
	out, err := yaml.Marshal(map[string][]rules.Spec{"rules": snippet})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render snippet: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Add the rules you want to your config.yaml:")
	fmt.Println("---")
	fmt.Print(string(out))
}
