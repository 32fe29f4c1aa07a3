package kaldi

import (
	"fmt"

	"github.com/google/shlex"
)

// SplitArgs splits a pass-through option string into arguments with shell
// quoting rules. An empty string yields no arguments.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("failed to split options %q: %w", s, err)
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args, nil
}
