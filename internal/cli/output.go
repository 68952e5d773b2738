package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func jsonField(raw json.RawMessage, field string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	v, _ := m[field].(string)
	if v == "" {
		return "", fmt.Errorf("response has no %s", field)
	}
	return v, nil
}
