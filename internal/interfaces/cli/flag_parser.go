package cli

import (
	"fmt"
	"strings"

	"kilometers.ai/procorch/internal/core/domain/process"
)

// CommandSeparator splits several command lines given after --
const CommandSeparator = ":::"

// ParseCommandGroups splits positional args on ::: into one command per group
func ParseCommandGroups(args []string) ([]process.Command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("a command is required after the -- separator")
	}

	var groups [][]string
	current := []string{}
	for _, arg := range args {
		if arg == CommandSeparator {
			groups = append(groups, current)
			current = []string{}
			continue
		}
		current = append(current, arg)
	}
	groups = append(groups, current)

	cmds := make([]process.Command, 0, len(groups))
	for i, group := range groups {
		cmd, err := process.ParseArgv(group)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// ParseEnvPairs converts KEY=VALUE flags into an override map
func ParseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid environment override %q, expected KEY=VALUE", pair)
		}
		env[parts[0]] = parts[1]
	}
	return env, nil
}
