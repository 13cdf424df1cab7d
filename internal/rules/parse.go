package rules

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// ParseSpec parses a rule token such as `-c ^general$ -b`. The token is split
// on whitespace, so patterns cannot contain spaces; use \s instead.
func ParseSpec(token string) (Spec, error) {
	fs := pflag.NewFlagSet("ignore", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var spec Spec
	var isBot bool
	fs.StringVarP(&spec.ChannelName, "channel-name", "c", "", "Channel name regexp")
	fs.StringVarP(&spec.AuthorNickname, "message-author-nickname", "n", "", "Message author nickname regexp")
	fs.StringVarP(&spec.AuthorRealName, "message-author-real-name", "r", "", "Message author real name regexp")
	fs.BoolVarP(&isBot, "message-author-is-bot", "b", false, "Message author is bot")
	fs.StringVarP(&spec.MessageText, "message-text", "t", "", "Message text regexp")

	if err := fs.Parse(strings.Fields(token)); err != nil {
		return Spec{}, fmt.Errorf("rules: parse %q: %w", token, err)
	}
	if fs.NArg() > 0 {
		return Spec{}, fmt.Errorf("rules: parse %q: unexpected arguments %v", token, fs.Args())
	}
	if fs.Changed("message-author-is-bot") {
		spec.AuthorIsBot = &isBot
	}

	return spec, nil
}

// ParseSpecs parses each token in order
func ParseSpecs(tokens []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(tokens))
	for _, token := range tokens {
		spec, err := ParseSpec(token)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
