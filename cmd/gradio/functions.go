package main

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/config"
	"github.com/sandutsar/gradio/pipeline"
)

// functions are the prediction functions a config file can reference by
// name.
var functions = map[string]pipeline.PredictFunc{
	"echo":       echo,
	"upper":      upper,
	"reverse":    reverse,
	"word_count": wordCount,
	"sentiment":  sentiment,
	"chat":       chat,
}

// interpreters explain predictions; a config file references them by name.
var interpreters = map[string]pipeline.InterpretFunc{
	"word_sentiment": wordSentiment,
}

func echo(_ context.Context, args []any) (any, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return args, nil
}

func text(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("expected a text argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("expected text, got %T", args[0])
	}
	return s, nil
}

func upper(_ context.Context, args []any) (any, error) {
	s, err := text(args)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func reverse(_ context.Context, args []any) (any, error) {
	s, err := text(args)
	if err != nil {
		return nil, err
	}
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

func wordCount(_ context.Context, args []any) (any, error) {
	s, err := text(args)
	if err != nil {
		return nil, err
	}
	return float64(len(strings.Fields(s))), nil
}

var (
	positiveWords = []string{"good", "great", "love", "excellent", "happy", "nice"}
	negativeWords = []string{"bad", "awful", "hate", "terrible", "sad", "poor"}
)

// sentiment scores text by counting positive and negative words.
func sentiment(_ context.Context, args []any) (any, error) {
	s, err := text(args)
	if err != nil {
		return nil, err
	}
	var pos, neg float64
	for _, w := range words(s) {
		switch polarity(w) {
		case 1:
			pos++
		case -1:
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return map[string]float64{"neutral": 1}, nil
	}
	return map[string]float64{"positive": pos / total, "negative": neg / total}, nil
}

func polarity(word string) float64 {
	for _, p := range positiveWords {
		if word == p {
			return 1
		}
	}
	for _, n := range negativeWords {
		if word == n {
			return -1
		}
	}
	return 0
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) })
}

// wordSentiment scores every word of the text input: 1 for positive, -1
// for negative, 0 otherwise.
func wordSentiment(_ context.Context, args []any) ([]any, error) {
	s, err := text(args)
	if err != nil {
		return nil, err
	}
	scores := make([]any, 0)
	for _, w := range words(s) {
		scores = append(scores, []any{w, polarity(w)})
	}
	return []any{scores}, nil
}

// chat appends the message to the history held in state and replies with
// the message count.
func chat(_ context.Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("chat takes a message and a history, got %d arguments", len(args))
	}
	msg, err := text(args)
	if err != nil {
		return nil, err
	}
	prev, _ := args[1].([]any)
	history := append(append(make([]any, 0, len(prev)+1), prev...), msg)
	reply := fmt.Sprintf("message %d: %s", len(history), msg)
	return []any{reply, history}, nil
}

// defaultInterfaces are served when no config file declares any.
func defaultInterfaces() []config.InterfaceConfig {
	return []config.InterfaceConfig{
		{
			Name:            "text",
			Title:           "Text tools",
			Description:     "Upper-cases and reverses text.",
			Fn:              []string{"upper", "reverse"},
			Inputs:          component.Specs("textbox"),
			Outputs:         []component.Spec{{Type: "textbox", Label: "result"}},
			FlaggingOptions: []string{"incorrect", "offensive"},
			Examples:        [][]any{{"hello world"}, {"gradio"}},
			CacheExamples:   true,
		},
		{
			Name:           "sentiment",
			Title:          "Sentiment",
			Description:    "Scores text as positive or negative.",
			Fn:             []string{"sentiment", "word_count"},
			Interpretation: "word_sentiment",
			Inputs:         component.Specs("textbox"),
			Outputs: []component.Spec{
				{Type: "label", Label: "sentiment"},
				{Type: "number", Label: "words"},
			},
			RepeatOutputs: boolPtr(false),
			Examples:      [][]any{{"what a great day"}},
		},
		{
			Name:          "chat",
			Title:         "Chat",
			Description:   "Keeps a per-session message history.",
			Fn:            []string{"chat"},
			Inputs:        []component.Spec{{Type: "textbox", Label: "message"}, {Type: "state"}},
			Outputs:       []component.Spec{{Type: "textbox", Label: "reply"}, {Type: "state"}},
			AllowFlagging: "never",
		},
	}
}

func boolPtr(b bool) *bool { return &b }
