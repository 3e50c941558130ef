package tools

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/logging"
)

// ExecuteCommandTool runs an OS command, gated by a regex allow-list.
type ExecuteCommandTool struct {
	AllowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }

func (t *ExecuteCommandTool) Description() string {
	if len(t.AllowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed."
	}
	return "Executes a shell command. Allowed command patterns:\n- " +
		strings.Join(t.AllowedCommands, "\n- ")
}

func (t *ExecuteCommandTool) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "command", Type: "string", Required: true, Description: "The command line to execute."},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := args["command"].(string)
	if !ok {
		return "", errors.New("'command' argument must be a string")
	}

	allowed, err := isCommandAllowed(command, t.AllowedCommands)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errors.New("command %q is not in the list of allowed commands", command)
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command failed. Output:\n%s", string(output))
	}
	return string(output), nil
}

// isCommandAllowed matches a command against the allow-list patterns,
// falling back to exact comparison for patterns that do not compile.
func isCommandAllowed(command string, allowed []string) (bool, error) {
	if len(strings.Fields(command)) == 0 {
		return false, nil
	}
	log := logging.Component("tools")
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Str("pattern", pattern).Err(err).Msg("invalid allowed_commands regex")
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
