package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// promptLine asks on stderr and reads one line from stdin. Used when a
// required argument was neither flagged nor configured.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no value given")
	}
	return line, nil
}
