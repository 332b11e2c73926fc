package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	inputFile = os.Stdin
)

func guidedInitialization(config *Config) error {
	scanner := bufio.NewScanner(inputFile)

	input, err := ask(scanner, fmt.Sprintf("Enter files directory [default: %s]", config.Store.FilesDir))
	if err != nil {
		return err
	}
	if input != "" {
		config.Store.FilesDir = input
		config.Orchestrator.FilesDir = input
	}

	input, err = ask(scanner, "Enter store node host for the orchestrator [default: none]")
	if err != nil {
		return err
	}
	config.Orchestrator.PeerHost = input

	input, err = ask(scanner, fmt.Sprintf("Enter timeout (e.g. 5s, 1m) [default: %s]", config.Store.Timeout))
	if err != nil {
		return err
	}
	if input != "" {
		duration, err := time.ParseDuration(input)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		config.Store.Timeout = duration
		config.Orchestrator.Timeout = duration
	}

	return nil
}

func ask(scanner *bufio.Scanner, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("could not read user input: %w", err)
		}
		return "", nil // EOF or closed input
	}
	return strings.TrimSpace(scanner.Text()), nil
}
