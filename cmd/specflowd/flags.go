package main

import (
	"fmt"
	"strings"
)

// flagSet is a manual `--name value` parser in the teacher's style
// (cmd/kilroy's index-loop switch over os.Args), generalized just enough to
// support a repeatable flag (--qa) without pulling in the flag package's
// single-value-per-name model.
type flagSet map[string]string

const multiSep = "\x1f"

// multi splits a repeated flag's accumulated values back out.
func (f flagSet) multi(key string) []string {
	v, ok := f[key]
	if !ok || v == "" {
		return nil
	}
	return strings.Split(v, multiSep)
}

// parseFlags walks args recognizing "--name value" and "--name" (boolean,
// recorded as "true") pairs, returning the flags and any leftover
// positional arguments.
func parseFlags(args []string) (flagSet, []string, error) {
	flags := flagSet{}
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if isBooleanFlag(name) {
			flags[name] = "true"
			continue
		}
		i++
		if i >= len(args) {
			return nil, nil, fmt.Errorf("--%s requires a value", name)
		}
		if existing, ok := flags[name]; ok {
			flags[name] = existing + multiSep + args[i]
		} else {
			flags[name] = args[i]
		}
	}
	return flags, positional, nil
}

func isBooleanFlag(name string) bool {
	switch name {
	case "auto-merge", "skip-design", "skip-analyze", "auto-heal", "pause-between-batches", "debug":
		return true
	default:
		return false
	}
}
