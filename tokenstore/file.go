package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// fileContents is the on-disk layout. Several profiles (one per backend, or
// per account) can share a single token file.
type fileContents struct {
	Profiles map[string]map[string]string `json:"profiles"` // key = profile name
}

// FileStore persists tokens for one profile in a JSON file shared with other
// profiles. Writes hold a cross-process lock and replace the file atomically.
type FileStore struct {
	Path    string
	Profile string
}

// NewFileStore returns a FileStore for profile backed by path.
func NewFileStore(path, profile string) *FileStore {
	return &FileStore{Path: path, Profile: profile}
}

func (fs *FileStore) Get(key string) (string, error) {
	contents, err := fs.read()
	if err != nil {
		return "", err
	}
	return contents.Profiles[fs.Profile][key], nil
}

func (fs *FileStore) Set(values map[string]string) error {
	return fs.update(func(profile map[string]string) {
		for k, v := range values {
			profile[k] = v
		}
	})
}

func (fs *FileStore) Delete(keys ...string) error {
	return fs.update(func(profile map[string]string) {
		for _, k := range keys {
			delete(profile, k)
		}
	})
}

// read loads the file without locking; a missing file is an empty store.
func (fs *FileStore) read() (*fileContents, error) {
	var contents fileContents
	data, err := os.ReadFile(fs.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &contents, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &contents, nil
}

// update applies mutate to this profile's values under the file lock and
// writes the merged result back, leaving other profiles untouched.
func (fs *FileStore) update(mutate func(profile map[string]string)) error {
	lock, err := acquireFileLock(fs.Path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	contents, err := fs.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking every future login
		contents = &fileContents{}
	}
	if contents.Profiles == nil {
		contents.Profiles = make(map[string]map[string]string)
	}
	profile := contents.Profiles[fs.Profile]
	if profile == nil {
		profile = make(map[string]string)
	}
	mutate(profile)
	if len(profile) == 0 {
		delete(contents.Profiles, fs.Profile)
	} else {
		contents.Profiles[fs.Profile] = profile
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tempFile := fs.Path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, fs.Path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
