// Package rules holds the ignore rules that decide whether an incoming
// message is hidden from the unread indicator.
package rules

import (
	"fmt"
	"regexp"

	"github.com/john/slackignore/internal/message"
)

// Spec is an ignore rule as configured. Empty patterns and a nil
// AuthorIsBot are absent predicates.
type Spec struct {
	ChannelName    string `yaml:"channel_name,omitempty"`
	AuthorNickname string `yaml:"author_nickname,omitempty"`
	AuthorRealName string `yaml:"author_real_name,omitempty"`
	AuthorIsBot    *bool  `yaml:"author_is_bot,omitempty"`
	MessageText    string `yaml:"message_text,omitempty"`
}

// InvalidRuleError reports a pattern that does not compile
type InvalidRuleError struct {
	Field   string
	Pattern string
	Err     error
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("rules: invalid %s pattern %q: %v", e.Field, e.Pattern, e.Err)
}

func (e *InvalidRuleError) Unwrap() error {
	return e.Err
}

// Rule is a compiled Spec. A message matches when every present predicate
// matches.
type Rule struct {
	channelName    *regexp.Regexp
	authorNickname *regexp.Regexp
	authorRealName *regexp.Regexp
	authorIsBot    *bool
	messageText    *regexp.Regexp
}

// Compile builds a Rule. Patterns must match the whole field value.
func Compile(spec Spec) (Rule, error) {
	var r Rule
	var err error

	if r.channelName, err = compileField("channel name", spec.ChannelName); err != nil {
		return Rule{}, err
	}
	if r.authorNickname, err = compileField("author nickname", spec.AuthorNickname); err != nil {
		return Rule{}, err
	}
	if r.authorRealName, err = compileField("author real name", spec.AuthorRealName); err != nil {
		return Rule{}, err
	}
	if r.messageText, err = compileField("message text", spec.MessageText); err != nil {
		return Rule{}, err
	}
	if spec.AuthorIsBot != nil {
		isBot := *spec.AuthorIsBot
		r.authorIsBot = &isBot
	}

	return r, nil
}

func compileField(field, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, &InvalidRuleError{Field: field, Pattern: pattern, Err: err}
	}
	// Anchored separately so the reported error refers to the user's pattern.
	return regexp.MustCompile(`\A(?:` + pattern + `)\z`), nil
}

// Matches reports whether every present predicate of r matches msg
func (r Rule) Matches(msg message.Message) bool {
	return matchOptional(r.channelName, msg.ConversationName) &&
		matchOptional(r.authorNickname, msg.AuthorNickname) &&
		matchRequired(r.authorRealName, msg.AuthorRealName) &&
		(r.authorIsBot == nil || *r.authorIsBot == msg.AuthorIsBot) &&
		matchRequired(r.messageText, msg.Text)
}

// matchOptional treats an empty value as absent, which never satisfies a
// present predicate.
func matchOptional(re *regexp.Regexp, value string) bool {
	if re == nil {
		return true
	}
	return value != "" && re.MatchString(value)
}

func matchRequired(re *regexp.Regexp, value string) bool {
	return re == nil || re.MatchString(value)
}

// Set is an ordered, immutable collection of rules with OR semantics
type Set struct {
	rules []Rule
}

// NewSet compiles specs in order
func NewSet(specs ...Spec) (*Set, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		r, err := Compile(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, r)
	}
	return &Set{rules: rules}, nil
}

// Matches reports whether any rule matches msg. An empty set matches nothing.
func (s *Set) Matches(msg message.Message) bool {
	for _, r := range s.rules {
		if r.Matches(msg) {
			return true
		}
	}
	return false
}

func (s *Set) Len() int {
	return len(s.rules)
}
