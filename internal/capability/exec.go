// ABOUTME: Transcriber that shells out to a local speech-to-text command
// ABOUTME: Command line parsed with go-shellwords; expects {"text": ...} JSON on stdout

package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecTranscriber runs a local recognizer binary for each request. The audio
// is written to a temp file passed as --audio; the hint as --language.
type ExecTranscriber struct {
	cmd     []string
	timeout time.Duration
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecTranscriber parses command into argv. timeout bounds each run
// (60s when zero).
func NewExecTranscriber(command string, timeout time.Duration) (*ExecTranscriber, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parsing transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ExecTranscriber{cmd: args, timeout: timeout}, nil
}

// Transcribe runs the command and decodes its JSON output.
func (r *ExecTranscriber) Transcribe(ctx context.Context, audio []byte, filename, languageHint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".webm"
	}
	file, err := os.CreateTemp("", "medibridge_stt_*"+ext)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(audio); err != nil {
		file.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if languageHint != "" && languageHint != "auto" {
		args = append(args, "--language", languageHint)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("transcription command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decoding transcription output: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

var _ Transcriber = (*ExecTranscriber)(nil)
