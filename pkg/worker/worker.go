package worker

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies one of the data-gathering workers.
type Kind string

const (
	KindTech       Kind = "tech"
	KindValueChain Kind = "valuechain"
	KindStock      Kind = "stock"
	KindESG        Kind = "esg"
)

// Kinds returns every known kind in dispatch order.
func Kinds() []Kind {
	return []Kind{KindTech, KindValueChain, KindStock, KindESG}
}

// ParseKind resolves a kind name, accepting a few common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tech", "technology":
		return KindTech, nil
	case "valuechain", "value_chain", "chain", "supplychain":
		return KindValueChain, nil
	case "stock", "market":
		return KindStock, nil
	case "esg", "policy":
		return KindESG, nil
	}
	return "", fmt.Errorf("unknown worker kind %q", s)
}

// Input is what every worker receives for one invocation.
type Input struct {
	// Subjects are the companies under analysis.
	Subjects []string
	// Regions are market/region codes such as KR or EU.
	Regions []string
	// OutDir is where workers may write their artifacts.
	OutDir string
}

// Worker gathers data for one concern. Implementations must be safe for
// concurrent use and return either a result or an error, never both.
type Worker interface {
	Kind() Kind
	Invoke(ctx context.Context, in Input) (Result, error)
}

// Func adapts a plain function into a Worker.
type Func struct {
	K  Kind
	Fn func(ctx context.Context, in Input) (Result, error)
}

func (f Func) Kind() Kind { return f.K }

func (f Func) Invoke(ctx context.Context, in Input) (Result, error) {
	return f.Fn(ctx, in)
}
