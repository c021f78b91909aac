package report

import (
	"encoding/json"
	"fmt"
	"os"
)

func WriteJSON(path string, r RunReport) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func ReadJSON(path string) (RunReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunReport{}, fmt.Errorf("read report %s: %w", path, err)
	}
	var r RunReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return RunReport{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return r, nil
}
