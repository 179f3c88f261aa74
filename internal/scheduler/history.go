package scheduler

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

// LoadHistory loads maintenance run history from a JSON file.
func LoadHistory(path string) (map[string]*TaskHistory, error) {
	history := make(map[string]*TaskHistory)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("INFO: Maintenance history file not found at %s, starting with empty history", path)
		return history, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var historyList []TaskHistory
	if err := json.Unmarshal(data, &historyList); err != nil {
		return nil, err
	}

	for i := range historyList {
		history[historyList[i].EventID] = &historyList[i]
	}

	log.Printf("INFO: Loaded maintenance history for %d events from %s", len(history), path)
	return history, nil
}

// SaveHistory saves maintenance run history to a JSON file.
func SaveHistory(path string, history map[string]*TaskHistory) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var historyList []TaskHistory
	for _, h := range history {
		historyList = append(historyList, *h)
	}

	data, err := json.MarshalIndent(historyList, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
