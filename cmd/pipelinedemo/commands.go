package main

import (
	"context"
	"errors"
	"strings"

	"github.com/AlfredDev/pipelinecore/pipeline"
)

// EchoCommand is the fixed command type routed through the StandardPipeline
// demo endpoint.
type EchoCommand struct {
	Message string `json:"message"`
}

// EchoHandler returns its command's message unchanged, giving the
// StandardPipeline route something terminal to run after middleware.
func EchoHandler() pipeline.Handler {
	return pipeline.HandlerFunc(func(ctx context.Context, cmd any, cctx *pipeline.CommandContext) (any, error) {
		echo, ok := cmd.(EchoCommand)
		if !ok {
			return nil, &pipeline.InvalidCommandTypeError{Expected: "main.EchoCommand", Got: typeNameOf(cmd)}
		}
		return echo.Message, nil
	})
}

// UppercaseCommand and ReverseCommand are registered against the
// DynamicPipeline demo endpoint to exercise runtime type routing.
type UppercaseCommand struct{ Text string }
type ReverseCommand struct{ Text string }

func UppercaseHandler() pipeline.Handler {
	return pipeline.HandlerFunc(func(ctx context.Context, cmd any, cctx *pipeline.CommandContext) (any, error) {
		c, ok := cmd.(UppercaseCommand)
		if !ok {
			return nil, &pipeline.InvalidCommandTypeError{Expected: "main.UppercaseCommand", Got: typeNameOf(cmd)}
		}
		return strings.ToUpper(c.Text), nil
	})
}

func ReverseHandler() pipeline.Handler {
	return pipeline.HandlerFunc(func(ctx context.Context, cmd any, cctx *pipeline.CommandContext) (any, error) {
		c, ok := cmd.(ReverseCommand)
		if !ok {
			return nil, &pipeline.InvalidCommandTypeError{Expected: "main.ReverseCommand", Got: typeNameOf(cmd)}
		}
		runes := []rune(c.Text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})
}

// buildDynamicCommand maps a URL path parameter to the demo's registered
// dynamic command types.
func buildDynamicCommand(kind, text string) (any, error) {
	switch kind {
	case "uppercase":
		return UppercaseCommand{Text: text}, nil
	case "reverse":
		return ReverseCommand{Text: text}, nil
	default:
		return nil, errors.New("unknown command kind: " + kind)
	}
}

func typeNameOf(v any) string {
	if v == nil {
		return "<nil>"
	}
	return pipeline.TypeName(v)
}
