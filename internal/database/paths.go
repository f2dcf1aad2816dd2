package database

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppDirName          = ".fieldroute"
	DataFileName        = "data.json"
	CacheDirName        = "cache"
	DistanceCacheFile   = "distances.json"
	CoordinateCacheFile = "coordinates.json"
	SQLiteDBFileName    = "data.db"
	ConfigFileName      = "config.yaml"
)

// GetAppDir returns dir, or ~/.fieldroute when dir is empty, creating it if needed
func GetAppDir(dir string) (string, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, AppDirName)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create app directory: %w", err)
	}

	return dir, nil
}

// GetDataFilePath returns <app dir>/data.json
func GetDataFilePath(appDir string) string {
	return filepath.Join(appDir, DataFileName)
}

// GetCacheDir returns <app dir>/cache, creating it if needed
func GetCacheDir(appDir string) (string, error) {
	cacheDir := filepath.Join(appDir, CacheDirName)
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	return cacheDir, nil
}

// GetDistanceCachePath returns <app dir>/cache/distances.json
func GetDistanceCachePath(appDir string) (string, error) {
	cacheDir, err := GetCacheDir(appDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, DistanceCacheFile), nil
}

// GetCoordinateCachePath returns <app dir>/cache/coordinates.json
func GetCoordinateCachePath(appDir string) (string, error) {
	cacheDir, err := GetCacheDir(appDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, CoordinateCacheFile), nil
}

// GetDefaultDBPath returns the default SQLite database path: <app dir>/data.db
func GetDefaultDBPath(appDir string) string {
	return filepath.Join(appDir, SQLiteDBFileName)
}

// GetConfigFilePath returns <app dir>/config.yaml
func GetConfigFilePath(appDir string) string {
	return filepath.Join(appDir, ConfigFileName)
}

// writeFileAtomic writes to a temp file first, then renames it over path
func writeFileAtomic(path string, data []byte) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
