package syscall

import "fmt"

// argString extracts a required string argument at position i.
func argString(name string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", name, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string, got %T", name, i+1, args[i])
	}
	return s, nil
}

// optArg returns the argument at position i, or nil when absent.
func optArg(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}
