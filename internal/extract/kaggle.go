package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// kaggleCredentials resolves the API user and key: pipeline config (which
// already carries KAGGLE_USERNAME/KAGGLE_KEY overrides) first, then
// kaggle.json in $KAGGLE_CONFIG_DIR or ~/.kaggle.
func (e *Extractor) kaggleCredentials() (user, key string, err error) {
	k := e.Pipeline.Source.Kaggle
	if k.Username != "" && k.Key != "" {
		return k.Username, k.Key, nil
	}

	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	dir := getenv("KAGGLE_CONFIG_DIR")
	if dir == "" {
		home := e.HomeDir
		if home == nil {
			home = os.UserHomeDir
		}
		h, err := home()
		if err != nil {
			return "", "", fmt.Errorf("kaggle credentials: %w", err)
		}
		dir = filepath.Join(h, ".kaggle")
	}

	p := filepath.Join(dir, "kaggle.json")
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", "", fmt.Errorf("kaggle credentials: set KAGGLE_USERNAME and KAGGLE_KEY or create %s", p)
	}
	if err != nil {
		return "", "", fmt.Errorf("kaggle credentials: %w", err)
	}
	var kj struct {
		Username string `json:"username"`
		Key      string `json:"key"`
	}
	if err := json.Unmarshal(b, &kj); err != nil {
		return "", "", fmt.Errorf("kaggle credentials: parse %s: %w", p, err)
	}
	if kj.Username == "" || kj.Key == "" {
		return "", "", fmt.Errorf("kaggle credentials: %s lacks username or key", p)
	}
	return kj.Username, kj.Key, nil
}
