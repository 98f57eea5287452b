package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// ghadapter runs an evaluate or compare command and republishes each JSON
// line it prints as step outputs. Lines carrying a "file" field are keyed by
// that file so several candidates can share one step.
func main() {
	if len(os.Args) < 2 {
		os.Exit(1)
	}

	cmd := exec.Command(os.Args[1], os.Args[2:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()
	os.Stdout.Write(output)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		os.Exit(1)
	}

	outputs, err := collect(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghadapter: %v\n", err)
		os.Exit(1)
	}

	githubOutput := os.Getenv("GITHUB_OUTPUT")
	if githubOutput == "" {
		return
	}
	f, err := os.OpenFile(githubOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghadapter: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := write(f, outputs); err != nil {
		fmt.Fprintf(os.Stderr, "ghadapter: %v\n", err)
		os.Exit(1)
	}
}

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func collect(r io.Reader) (map[string]string, error) {
	outputs := map[string]string{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var result map[string]interface{}
		if err := json.Unmarshal(line, &result); err != nil {
			return nil, fmt.Errorf("invalid output line %q: %w", line, err)
		}

		prefix := ""
		if file, ok := result["file"].(string); ok {
			prefix = strings.Trim(unsafeKey.ReplaceAllString(file, "_"), "_") + "_"
			delete(result, "file")
		}
		for key, value := range result {
			outputs[prefix+key] = fmt.Sprint(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return outputs, nil
}

func write(w io.Writer, outputs map[string]string) error {
	keys := make([]string, 0, len(outputs))
	for key := range outputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, outputs[key]); err != nil {
			return err
		}
	}
	return nil
}
