/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: summary_writer.go
Description: Utility for writing run summaries and campaign statistics as JSON.
Ensures directories exist and uses timestamped names for campaign files so that
repeated campaigns over the same output directory never overwrite each other.
*/

package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SummaryName is the per-run summary file name.
const SummaryName = "summary.json"

// WriteRunSummary writes summary as runDir/summary.json and returns the path.
func WriteRunSummary(runDir string, summary interface{}) (string, error) {
	return writeJSON(runDir, SummaryName, summary)
}

// WriteCampaignStats writes stats to <outputDir>/metrics/<timestamp>_<name>.json.
func WriteCampaignStats(outputDir, name string, stats interface{}) (string, error) {
	// 2024-06-11_01-30-00_campaign.json
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return writeJSON(filepath.Join(outputDir, "metrics"), fmt.Sprintf("%s_%s.json", timestamp, name), stats)
}

func writeJSON(dir, name string, v interface{}) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}
