package cli

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// out resolves the command's output writer, falling back to the root
// command's and then stdout.
func out(cmd *cli.Command) io.Writer {
	if cmd.Writer != nil {
		return cmd.Writer
	}
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}

type meta struct {
	Command    string `json:"command"`
	Version    string `json:"version"`
	DurationMS int64  `json:"durationMs"`
}

type envelope struct {
	OK    bool   `json:"ok"`
	Meta  meta   `json:"meta"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w io.Writer, command, version string, start time.Time, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{
		OK: true,
		Meta: meta{
			Command:    command,
			Version:    version,
			DurationMS: time.Since(start).Milliseconds(),
		},
		Data: data,
	})
}
