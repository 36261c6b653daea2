package producer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticRule answers any prompt whose system message or prompt contains
// Match.
type StaticRule struct {
	Match string `yaml:"match"`
	Text  string `yaml:"text"`
}

// StaticGenerator returns scripted answers. It backs offline runs and
// fixtures. Safe for concurrent use.
type StaticGenerator struct {
	Rules   []StaticRule `yaml:"rules"`
	Default string       `yaml:"default"`

	mu    sync.Mutex
	calls int
}

// LoadStaticGenerator reads rules from a YAML fixture file.
func LoadStaticGenerator(path string) (*StaticGenerator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static producer fixture: %w", err)
	}
	var g StaticGenerator
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse static producer fixture: %w", err)
	}
	return &g, nil
}

// Generate implements Generator.
func (g *StaticGenerator) Generate(ctx context.Context, prompt, system string, _ ...Option) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	for _, r := range g.Rules {
		if strings.Contains(system, r.Match) || strings.Contains(prompt, r.Match) {
			return staticResponse(r.Text), nil
		}
	}
	if g.Default == "" {
		return nil, Permanent(fmt.Errorf("no static rule matches prompt"))
	}
	return staticResponse(g.Default), nil
}

// Calls returns how many times Generate has been invoked.
func (g *StaticGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func staticResponse(text string) *Response {
	n := len(strings.Fields(text))
	return &Response{
		Text:       text,
		Model:      "static",
		TokenUsage: TokenUsage{OutputTokens: n, TotalTokens: n},
	}
}

// Match strings that select each agent's system message.
const (
	MatchEvidence      = "extraction expert"
	MatchCausal        = "causal inference"
	MatchContradiction = "evidence analysis"
)
