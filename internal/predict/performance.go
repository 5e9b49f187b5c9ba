package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const metadataFile = "model_metadata.json"

// placeholderPerformance is served until the training script writes
// model_metadata.json.
var placeholderPerformance = json.RawMessage(`{
  "classifier": {
    "accuracy": 0.78,
    "model_type": "Random Forest Classifier",
    "features": 8,
    "samples_trained": 12273
  },
  "regressor": {
    "linear_rmse": 2.85,
    "random_forest_rmse": 2.12,
    "model_type": "Random Forest Regressor + Linear Regression",
    "features": 8,
    "samples_trained": 12273
  },
  "feature_importance": {
    "Weather Condition": 0.26,
    "Broad Phase of Flight": 0.26,
    "Number of Engines": 0.14,
    "Engine Type": 0.13,
    "Year": 0.08,
    "Month": 0.06,
    "DayOfWeek": 0.05,
    "Country": 0.02
  }
}`)

// Performance returns the training metadata in dir, or the placeholder
// metrics when none has been written. The file is passed through as-is
// once it is known to be a JSON object.
func Performance(dir string) (json.RawMessage, error) {
	if dir == "" {
		return placeholderPerformance, nil
	}
	path := filepath.Join(dir, metadataFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return placeholderPerformance, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return json.RawMessage(b), nil
}
